package domain

import (
	"context"
	"time"
)

// QueryStatus is the provider's view of a payment, reduced to the states the
// reconciliation engine acts on.
type QueryStatus string

const (
	QueryStatusPending   QueryStatus = "pending"
	QueryStatusConfirmed QueryStatus = "confirmed"
	QueryStatusOverdue   QueryStatus = "overdue"
	QueryStatusRefunded  QueryStatus = "refunded"
	QueryStatusUnknown   QueryStatus = "unknown"
)

type Customer struct {
	Name          string
	Email         string
	CPFCNPJ       string
	Phone         string
	PostalCode    string
	AddressNumber string
	ExternalRef   string
}

type CreditCard struct {
	HolderName  string
	Number      string
	ExpiryMonth string
	ExpiryYear  string
	CCV         string
}

type CreateSubscriptionRequest struct {
	CustomerID        string
	BillingMethod     string
	Value             int64
	NextDueDate       time.Time
	Description       string
	ExternalReference string
	CreditCard        *CreditCard
	Holder            *Customer
	RemoteIP          string
}

type ProviderSubscription struct {
	ID         string
	CustomerID string
	Status     string
}

// PaymentQuery is a conclusive answer from the provider about one payment.
type PaymentQuery struct {
	PaymentID      string
	SubscriptionID string
	Status         QueryStatus
	ProviderStatus string
	Value          int64
	DueDate        time.Time
	ConfirmedDate  *time.Time
	BillingType    string
}

type PixCode struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

type Boleto struct {
	BankSlipURL         string `json:"bankSlipUrl"`
	IdentificationField string `json:"identificationField"`
	BarCode             string `json:"barCode"`
	DueDate             string `json:"dueDate"`
}

// Gateway is the outbound client to the payment provider. Every call is
// bounded; timeouts, transport failures, 5xx replies and undecodable bodies
// surface as ErrInconclusive.
//
//go:generate mockgen -source=gateway.go -destination=./mocks/mock_gateway.go -package=mocks
type Gateway interface {
	CreateCustomer(ctx context.Context, customer Customer) (string, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*ProviderSubscription, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentQuery, error)
	ListSubscriptionPayments(ctx context.Context, subscriptionID string) ([]PaymentQuery, error)
	RegeneratePixCode(ctx context.Context, paymentID string) (*PixCode, error)
	GetBoleto(ctx context.Context, paymentID string) (*Boleto, error)
	CancelSubscription(ctx context.Context, subscriptionID string, reason string) error
}
