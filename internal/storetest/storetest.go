// Package storetest opens throwaway in-memory databases carrying the paysync schema.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Schema mirrors the PostgreSQL migration using SQLite column types.
var Schema = []string{
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		billing_method TEXT NOT NULL,
		value BIGINT NOT NULL,
		provider_customer_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_confirmed_payment_at DATETIME,
		cancel_reason TEXT,
		canceled_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_owner_open
		ON subscriptions (owner_id)
		WHERE status <> 'canceled'`,
	`CREATE TABLE payment_records (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		status TEXT NOT NULL,
		value BIGINT NOT NULL,
		due_date DATETIME NOT NULL,
		confirmed_date DATETIME,
		billing_type TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		payment_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at DATETIME,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		classification TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event_id
		ON payment_events (provider_event_id)`,
	`CREATE INDEX idx_payment_events_subscription_received
		ON payment_events (subscription_id, received_at)`,
}

// Open returns a fresh shared-cache in-memory database with the schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db := OpenEmpty(t)
	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

// OpenEmpty returns a fresh in-memory database without any tables.
func OpenEmpty(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// a single connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}
