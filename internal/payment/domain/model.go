package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is one row of the append-only webhook ledger. Only the
// processing bookkeeping columns change after insert.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"size:191;not null;uniqueIndex"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	SubscriptionID  string         `json:"subscription_id" gorm:"size:191;not null;index"`
	PaymentID       string         `json:"payment_id" gorm:"type:text;not null;default:''"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	Processed       bool           `json:"processed" gorm:"not null;default:false"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	Attempts        int            `json:"attempts" gorm:"not null;default:0"`
	LastError       *string        `json:"last_error" gorm:"type:text"`
	Classification  string         `json:"classification" gorm:"type:text;not null;default:''"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentConfirmed     = "payment_confirmed"
	EventTypePaymentOverdue       = "payment_overdue"
	EventTypePaymentRefunded      = "payment_refunded"
	EventTypePaymentCreated       = "payment_created"
	EventTypePaymentUpdated       = "payment_updated"
	EventTypeSubscriptionCanceled = "subscription_canceled"
)

// KnownEventType reports whether the reconciliation engine understands the type.
func KnownEventType(eventType string) bool {
	switch eventType {
	case EventTypePaymentConfirmed,
		EventTypePaymentOverdue,
		EventTypePaymentRefunded,
		EventTypePaymentCreated,
		EventTypePaymentUpdated,
		EventTypeSubscriptionCanceled:
		return true
	default:
		return false
	}
}

// Ledger classifications recorded alongside the processed flag.
const (
	ClassificationApplied              = "applied"
	ClassificationNoop                 = "noop"
	ClassificationUnknownEventType     = "unknown_event_type"
	ClassificationInvalidTransition    = "invalid_transition"
	ClassificationSubscriptionNotFound = "subscription_not_found"
)

// PaymentEvent is the canonical payment event parsed by adapters. Amounts are
// minor units.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	Type              string
	ProviderEventType string
	SubscriptionID    string
	PaymentID         string
	PaymentStatus     string
	Value             int64
	DueDate           time.Time
	ConfirmedDate     *time.Time
	BillingType       string
	RawPayload        []byte
}
