package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded PostgreSQL schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

const openSubscriptionIndex = "ux_subscriptions_owner_open"

// AutoMigrate creates the schema from the gorm models for the non-postgres
// dialects used in local development, including the one-open-subscription
// per owner index the models cannot express.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.PaymentRecord{},
		&paymentdomain.EventRecord{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := ensureOpenSubscriptionIndex(conn); err != nil {
		return fmt.Errorf("open subscription index: %w", err)
	}
	return nil
}

func ensureOpenSubscriptionIndex(conn *gorm.DB) error {
	migrator := conn.Migrator()
	model := &subscriptiondomain.Subscription{}
	if migrator.HasIndex(model, openSubscriptionIndex) {
		return nil
	}

	switch conn.Dialector.Name() {
	case "mysql":
		// no partial indexes: unique over a generated column that is NULL once canceled
		if !migrator.HasColumn(model, "open_owner_id") {
			if err := conn.Exec(
				`ALTER TABLE subscriptions ADD COLUMN open_owner_id VARCHAR(191)
				 AS (CASE WHEN status <> 'canceled' THEN owner_id END) STORED`,
			).Error; err != nil {
				return err
			}
		}
		return conn.Exec(`CREATE UNIQUE INDEX ` + openSubscriptionIndex + ` ON subscriptions (open_owner_id)`).Error
	default:
		return conn.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS ` + openSubscriptionIndex + `
			 ON subscriptions (owner_id)
			 WHERE status <> 'canceled'`,
		).Error
	}
}
