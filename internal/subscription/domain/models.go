// Package domain contains persistence models for subscriptions and their payments.
package domain

import "time"

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending      SubscriptionStatus = "pending"
	SubscriptionStatusActive       SubscriptionStatus = "active"
	SubscriptionStatusPastDue      SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled     SubscriptionStatus = "canceled"
	SubscriptionStatusReactivating SubscriptionStatus = "reactivating"
)

// IsTerminal reports whether no further transition may leave the status.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusPending,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
		SubscriptionStatusReactivating:
		return true
	default:
		return false
	}
}

type BillingMethod string

const (
	BillingMethodCreditCard BillingMethod = "credit_card"
	BillingMethodPix        BillingMethod = "pix"
	BillingMethodBoleto     BillingMethod = "boleto"
)

func (m BillingMethod) Valid() bool {
	switch m {
	case BillingMethodCreditCard, BillingMethodPix, BillingMethodBoleto:
		return true
	default:
		return false
	}
}

// PaymentStatus represents the state of a single billing cycle payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusOverdue   PaymentStatus = "overdue"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Subscription is the local source of truth for an owner's plan. The ID is
// assigned by the payment provider.
type Subscription struct {
	ID                     string             `gorm:"primaryKey;size:191"`
	OwnerID                string             `gorm:"size:191;not null;index"`
	Status                 SubscriptionStatus `gorm:"type:text;not null"`
	BillingMethod          BillingMethod      `gorm:"type:text;not null"`
	Value                  int64              `gorm:"not null"`
	ProviderCustomerID     string             `gorm:"type:text;not null;default:''"`
	CreatedAt              time.Time          `gorm:"not null"`
	UpdatedAt              time.Time          `gorm:"not null"`
	LastConfirmedPaymentAt *time.Time         `gorm:""`
	CancelReason           *string            `gorm:"type:text"`
	CanceledAt             *time.Time         `gorm:""`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PaymentRecord tracks one billing cycle of a subscription. Records are never deleted.
type PaymentRecord struct {
	ID             string        `gorm:"primaryKey;size:191"`
	SubscriptionID string        `gorm:"size:191;not null;index"`
	Status         PaymentStatus `gorm:"type:text;not null"`
	Value          int64         `gorm:"not null"`
	DueDate        time.Time     `gorm:"not null"`
	ConfirmedDate  *time.Time    `gorm:""`
	BillingType    string        `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time     `gorm:"not null"`
	UpdatedAt      time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (PaymentRecord) TableName() string { return "payment_records" }

// SameCycle reports whether both records bill the same period.
func (p PaymentRecord) SameCycle(other PaymentRecord) bool {
	if p.ID != "" && p.ID == other.ID {
		return true
	}
	return sameDay(p.DueDate, other.DueDate)
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
