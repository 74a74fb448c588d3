package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysync/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const eventColumns = `id, provider, provider_event_id, event_type, subscription_id, payment_id,
	payload, received_at, processed, processed_at, attempts, last_error, classification`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, providerEventID string) (*domain.EventRecord, error) {
	return r.findOne(ctx, db,
		`SELECT `+eventColumns+`
		 FROM payment_events
		 WHERE provider_event_id = ?
		 LIMIT 1`,
		providerEventID,
	)
}

func (r *repo) FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.EventRecord, error) {
	return r.findOne(ctx, db, `SELECT `+eventColumns+` FROM payment_events WHERE id = ?`, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertEvent is the dedupe boundary: a single conditional insert whose
// affected row count tells whether this delivery is the first. The conflict
// clause is rendered by the active dialector.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, classification string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed = ?, processed_at = ?, classification = ?, last_error = NULL
		 WHERE id = ?`,
		true,
		processedAt,
		classification,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND processed = ?`,
		lastError,
		id,
		false,
	).Error
}

func (r *repo) Classify(ctx context.Context, db *gorm.DB, id snowflake.ID, classification string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET classification = ?
		 WHERE id = ?`,
		classification,
		id,
	).Error
}

// ListUnprocessed returns retryable rows oldest first so replays keep
// per-subscription receive order.
func (r *repo) ListUnprocessed(ctx context.Context, db *gorm.DB, eventTypes []string, maxAttempts int, limit int) ([]domain.EventRecord, error) {
	if len(eventTypes) == 0 || limit <= 0 {
		return nil, nil
	}
	var items []domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM payment_events
		 WHERE processed = ? AND attempts < ? AND event_type IN ?
		 ORDER BY received_at ASC, id ASC
		 LIMIT ?`,
		false,
		maxAttempts,
		eventTypes,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountUnprocessed(ctx context.Context, db *gorm.DB, eventTypes []string, maxAttempts int) (int64, error) {
	if len(eventTypes) == 0 {
		return 0, nil
	}
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM payment_events
		 WHERE processed = ? AND attempts < ? AND event_type IN ?`,
		false,
		maxAttempts,
		eventTypes,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string, after *domain.EventCursor, limit int) ([]domain.EventRecord, error) {
	query := `SELECT ` + eventColumns + `
		 FROM payment_events
		 WHERE subscription_id = ?`
	args := []any{subscriptionID}
	if after != nil {
		query += ` AND (received_at > ? OR (received_at = ? AND id > ?))`
		args = append(args, after.ReceivedAt, after.ReceivedAt, after.ID)
	}
	query += ` ORDER BY received_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	var items []domain.EventRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
