package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, providerEventID string) (*EventRecord, error)
	FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, classification string, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string) error
	Classify(ctx context.Context, db *gorm.DB, id snowflake.ID, classification string) error
	ListUnprocessed(ctx context.Context, db *gorm.DB, eventTypes []string, maxAttempts int, limit int) ([]EventRecord, error)
	CountUnprocessed(ctx context.Context, db *gorm.DB, eventTypes []string, maxAttempts int) (int64, error)
	ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string, after *EventCursor, limit int) ([]EventRecord, error)
}

// EventCursor positions a subscription's event history for keyset pagination.
type EventCursor struct {
	ReceivedAt time.Time
	ID         snowflake.ID
}
