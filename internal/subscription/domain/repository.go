package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists subscriptions and payment records. Every method takes the
// handle to run on so callers can compose them inside one transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id string) (*Subscription, error)
	FindOpenByOwner(ctx context.Context, db *gorm.DB, ownerID string) (*Subscription, error)
	UpdateState(ctx context.Context, db *gorm.DB, subscription *Subscription, expected SubscriptionStatus) error
	UpsertPayment(ctx context.Context, db *gorm.DB, payment *PaymentRecord) error
	FindPayment(ctx context.Context, db *gorm.DB, id string) (*PaymentRecord, error)
	ListPayments(ctx context.Context, db *gorm.DB, subscriptionID string) ([]PaymentRecord, error)
}
