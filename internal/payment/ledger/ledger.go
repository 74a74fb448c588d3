// Package ledger records every inbound provider event exactly once and tracks
// whether the reconciliation engine has applied it.
package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysync/internal/clock"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxLastErrorLen = 1024

// ReplayableEventTypes are the ledger rows the reprocess sweep may retry.
var ReplayableEventTypes = []string{
	paymentdomain.EventTypePaymentConfirmed,
	paymentdomain.EventTypePaymentOverdue,
	paymentdomain.EventTypePaymentRefunded,
	paymentdomain.EventTypePaymentCreated,
	paymentdomain.EventTypePaymentUpdated,
	paymentdomain.EventTypeSubscriptionCanceled,
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  paymentdomain.Repository
	Clock clock.Clock
}

type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  paymentdomain.Repository
	clock clock.Clock
}

func New(p Params) *Ledger {
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("payment.ledger"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

// WithTx returns a ledger bound to the given transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	clone := *l
	clone.db = tx
	return &clone
}

// Record appends the event unless its provider event id is already known.
// isNew is false for a duplicate delivery, in which case the stored row is
// returned and nothing is written.
func (l *Ledger) Record(ctx context.Context, event *paymentdomain.PaymentEvent) (bool, *paymentdomain.EventRecord, error) {
	if err := validate(event); err != nil {
		return false, nil, err
	}

	classification := ""
	if !paymentdomain.KnownEventType(event.Type) {
		classification = paymentdomain.ClassificationUnknownEventType
	}

	record := paymentdomain.EventRecord{
		ID:              l.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		SubscriptionID:  event.SubscriptionID,
		PaymentID:       event.PaymentID,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      l.clock.Now().UTC(),
		Classification:  classification,
	}

	inserted, err := l.repo.InsertEvent(ctx, l.db, &record)
	if err != nil {
		return false, nil, err
	}
	if inserted {
		if classification == paymentdomain.ClassificationUnknownEventType {
			l.log.Warn("unknown payment event type recorded",
				zap.String("provider", record.Provider),
				zap.String("provider_event_id", record.ProviderEventID),
				zap.String("event_type", record.EventType),
			)
		}
		return true, &record, nil
	}

	stored, err := l.repo.FindEvent(ctx, l.db, event.ProviderEventID)
	if err != nil {
		return false, nil, err
	}
	if stored == nil {
		return false, nil, paymentdomain.ErrEventNotFound
	}
	return false, stored, nil
}

func (l *Ledger) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.EventRecord, error) {
	record, err := l.repo.FindEventByID(ctx, l.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, paymentdomain.ErrEventNotFound
	}
	return record, nil
}

func (l *Ledger) MarkProcessed(ctx context.Context, id snowflake.ID, classification string) error {
	return l.repo.MarkProcessed(ctx, l.db, id, classification, l.clock.Now().UTC())
}

// MarkFailed bumps the attempt counter and keeps the latest failure for the sweep.
func (l *Ledger) MarkFailed(ctx context.Context, id snowflake.ID, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxLastErrorLen {
		msg = msg[:maxLastErrorLen]
	}
	return l.repo.MarkFailed(ctx, l.db, id, msg)
}

func (l *Ledger) Classify(ctx context.Context, id snowflake.ID, classification string) error {
	return l.repo.Classify(ctx, l.db, id, classification)
}

func (l *Ledger) ListUnprocessed(ctx context.Context, limit int, maxAttempts int) ([]paymentdomain.EventRecord, error) {
	return l.repo.ListUnprocessed(ctx, l.db, ReplayableEventTypes, maxAttempts, limit)
}

func (l *Ledger) Backlog(ctx context.Context, maxAttempts int) (int64, error) {
	return l.repo.CountUnprocessed(ctx, l.db, ReplayableEventTypes, maxAttempts)
}

// ListBySubscription pages through a subscription's events in receive order.
func (l *Ledger) ListBySubscription(ctx context.Context, subscriptionID string, page pagination.Pagination) ([]paymentdomain.EventRecord, pagination.PageInfo, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, pagination.PageInfo{}, paymentdomain.ErrInvalidSubscription
	}
	page = page.Normalize()

	var after *paymentdomain.EventCursor
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		after, err = decodeEventCursor(cursor)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
	}

	items, err := l.repo.ListBySubscription(ctx, l.db, subscriptionID, after, page.PageSize+1)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	return pagination.BuildCursorPageInfo(items, page.PageSize, func(item paymentdomain.EventRecord) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}
	})
}

func decodeEventCursor(cursor *pagination.Cursor) (*paymentdomain.EventCursor, error) {
	id, err := strconv.ParseInt(cursor.ID, 10, 64)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	receivedAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	return &paymentdomain.EventCursor{ReceivedAt: receivedAt, ID: snowflake.ID(id)}, nil
}

func validate(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ProviderEventID == "" || event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.SubscriptionID = strings.TrimSpace(event.SubscriptionID)
	if event.SubscriptionID == "" {
		return paymentdomain.ErrInvalidSubscription
	}
	event.PaymentID = strings.TrimSpace(event.PaymentID)
	if !json.Valid(event.RawPayload) {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}
