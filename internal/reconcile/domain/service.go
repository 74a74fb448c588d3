package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
)

// Service drives every write to subscription and payment state.
type Service interface {
	IngestWebhook(ctx context.Context, req IngestWebhookRequest) (IngestWebhookResult, error)
	ProcessEvent(ctx context.Context, eventID snowflake.ID) (string, error)
	Reprocess(ctx context.Context, limit int) (ReprocessResult, error)
	Refresh(ctx context.Context, subscriptionID string) (RefreshResult, error)
	Cancel(ctx context.Context, req CancelRequest) (subscriptiondomain.Subscription, error)
	Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
	Reactivate(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
	RegeneratePix(ctx context.Context, subscriptionID string) (*paymentdomain.PixCode, error)
}

type IngestWebhookRequest struct {
	Provider string
	Payload  []byte
	Headers  http.Header
}

type IngestWebhookResult struct {
	EventID         snowflake.ID
	ProviderEventID string
	EventType       string
	Duplicate       bool
	Classification  string
}

type ReprocessResult struct {
	Scanned   int
	Processed int
	Failed    int
}

type RefreshResult struct {
	Subscription subscriptiondomain.Subscription
	Applied      bool
}

type CancelRequest struct {
	SubscriptionID string
	Reason         string
}

type Customer struct {
	Name          string
	Email         string
	CPFCNPJ       string
	Phone         string
	PostalCode    string
	AddressNumber string
}

type CheckoutRequest struct {
	OwnerID       string
	BillingMethod subscriptiondomain.BillingMethod
	Value         int64
	Description   string
	Customer      Customer
	CreditCard    *paymentdomain.CreditCard
	RemoteIP      string
}

type CheckoutResponse struct {
	Subscription subscriptiondomain.Subscription
	Previous     *subscriptiondomain.Subscription
	PaymentID    string
	Pix          *paymentdomain.PixCode
	Boleto       *paymentdomain.Boleto
}
