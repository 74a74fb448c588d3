package repository

import (
	"context"
	"strings"

	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"github.com/smallbiznis/paysync/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const subscriptionColumns = `id, owner_id, status, billing_method, value, provider_customer_id,
	created_at, updated_at, last_confirmed_payment_at, cancel_reason, canceled_at`

const paymentColumns = `id, subscription_id, status, value, due_date, confirmed_date,
	billing_type, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	if subscription.Status != subscriptiondomain.SubscriptionStatusCanceled {
		existing, err := r.FindOpenByOwner(ctx, conn, subscription.OwnerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrOpenSubscriptionExists
		}
	}

	err := conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OwnerID,
		subscription.Status,
		subscription.BillingMethod,
		subscription.Value,
		subscription.ProviderCustomerID,
		subscription.CreatedAt,
		subscription.UpdatedAt,
		subscription.LastConfirmedPaymentAt,
		subscription.CancelReason,
		subscription.CanceledAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.ErrOpenSubscriptionExists
		}
		return err
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`+forUpdate(conn), id)
}

func (r *repo) FindOpenByOwner(ctx context.Context, conn *gorm.DB, ownerID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE owner_id = ? AND status <> ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		ownerID,
		subscriptiondomain.SubscriptionStatusCanceled,
	)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(query, args...).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == "" {
		return nil, nil
	}
	return &subscription, nil
}

// UpdateState writes the mutable lifecycle columns. The row must still carry
// the expected status, otherwise ErrConcurrentStatusChange is returned.
func (r *repo) UpdateState(ctx context.Context, conn *gorm.DB, subscription *subscriptiondomain.Subscription, expected subscriptiondomain.SubscriptionStatus) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?, last_confirmed_payment_at = ?,
			cancel_reason = ?, canceled_at = ?, provider_customer_id = ?
		 WHERE id = ? AND status = ?`,
		subscription.Status,
		subscription.UpdatedAt,
		subscription.LastConfirmedPaymentAt,
		subscription.CancelReason,
		subscription.CanceledAt,
		subscription.ProviderCustomerID,
		subscription.ID,
		expected,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return subscriptiondomain.ErrOpenSubscriptionExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscriptiondomain.ErrConcurrentStatusChange
	}
	return nil
}

func (r *repo) UpsertPayment(ctx context.Context, conn *gorm.DB, payment *subscriptiondomain.PaymentRecord) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"value",
				"due_date",
				"confirmed_date",
				"billing_type",
				"updated_at",
			}),
		}).
		Create(payment).Error
}

func (r *repo) FindPayment(ctx context.Context, conn *gorm.DB, id string) (*subscriptiondomain.PaymentRecord, error) {
	var payment subscriptiondomain.PaymentRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payment_records WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, nil
	}
	return &payment, nil
}

// ListPayments returns the subscription's payments, most recent cycle first.
func (r *repo) ListPayments(ctx context.Context, conn *gorm.DB, subscriptionID string) ([]subscriptiondomain.PaymentRecord, error) {
	var payments []subscriptiondomain.PaymentRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payment_records
		 WHERE subscription_id = ?
		 ORDER BY due_date DESC, created_at DESC`,
		subscriptionID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func forUpdate(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	switch strings.ToLower(conn.Dialector.Name()) {
	case "postgres", "mysql":
		return " FOR UPDATE"
	default:
		return ""
	}
}
