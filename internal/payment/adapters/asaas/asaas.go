// Package asaas integrates the Asaas payment provider: webhook verification
// and parsing, plus the outbound REST gateway.
package asaas

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
)

const (
	Provider = "asaas"

	HeaderAccessToken = "asaas-access-token"
	HeaderEventID     = "asaas-event-id"

	dateLayout = "2006-01-02"
)

var validate = validator.New()

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	token, ok := readString(cfg.Config, "webhook_token")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookToken: token}, nil
}

type Adapter struct {
	webhookToken string
}

// Verify checks the shared access token Asaas sends on every webhook.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	token := strings.TrimSpace(headers.Get(HeaderAccessToken))
	if token == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.webhookToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	ID           string           `json:"id"`
	Event        string           `json:"event" validate:"required"`
	DateCreated  string           `json:"dateCreated"`
	Payment      *webhookPayment  `json:"payment" validate:"omitempty"`
	Subscription *webhookSubscRef `json:"subscription" validate:"omitempty"`
}

type webhookPayment struct {
	ID            string      `json:"id" validate:"required"`
	Customer      string      `json:"customer"`
	Subscription  string      `json:"subscription" validate:"required"`
	Status        string      `json:"status" validate:"required"`
	Value         json.Number `json:"value" validate:"required"`
	BillingType   string      `json:"billingType"`
	DueDate       string      `json:"dueDate" validate:"required,datetime=2006-01-02"`
	ConfirmedDate string      `json:"confirmedDate" validate:"omitempty,datetime=2006-01-02"`
	PaymentDate   string      `json:"paymentDate" validate:"omitempty,datetime=2006-01-02"`
}

type webhookSubscRef struct {
	ID       string `json:"id" validate:"required"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

// Parse normalises an Asaas webhook into a PaymentEvent. Event names the
// engine does not know are returned with their raw name so the ledger can
// keep them.
func (a *Adapter) Parse(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var event webhookEvent
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if err := validate.Struct(event); err != nil {
		return nil, validationToDomain(err)
	}

	rawType := strings.ToUpper(strings.TrimSpace(event.Event))
	eventType := mapEventType(rawType)

	out := &paymentdomain.PaymentEvent{
		Provider:          Provider,
		Type:              eventType,
		ProviderEventType: rawType,
		RawPayload:        payload,
	}

	switch {
	case event.Payment != nil:
		if err := fillPayment(out, event.Payment); err != nil {
			return nil, err
		}
	case event.Subscription != nil:
		out.SubscriptionID = strings.TrimSpace(event.Subscription.ID)
		out.PaymentStatus = strings.ToUpper(strings.TrimSpace(event.Subscription.Status))
	default:
		return nil, paymentdomain.ErrInvalidSubscription
	}

	if eventType != paymentdomain.EventTypeSubscriptionCanceled && out.PaymentID == "" && paymentdomain.KnownEventType(eventType) {
		return nil, paymentdomain.ErrInvalidPayment
	}

	out.ProviderEventID = providerEventID(event, headers, out)
	return out, nil
}

func fillPayment(out *paymentdomain.PaymentEvent, payment *webhookPayment) error {
	value, err := ReaisToCents(payment.Value.String())
	if err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	due, err := time.Parse(dateLayout, payment.DueDate)
	if err != nil {
		return paymentdomain.ErrInvalidPayload
	}

	out.SubscriptionID = strings.TrimSpace(payment.Subscription)
	out.PaymentID = strings.TrimSpace(payment.ID)
	out.PaymentStatus = strings.ToUpper(strings.TrimSpace(payment.Status))
	out.Value = value
	out.DueDate = due.UTC()
	out.BillingType = strings.ToUpper(strings.TrimSpace(payment.BillingType))

	confirmed := firstNonEmpty(payment.ConfirmedDate, payment.PaymentDate)
	if confirmed != "" {
		parsed, err := time.Parse(dateLayout, confirmed)
		if err != nil {
			return paymentdomain.ErrInvalidPayload
		}
		parsed = parsed.UTC()
		out.ConfirmedDate = &parsed
	}
	return nil
}

// providerEventID prefers the body id, then the delivery header, then a
// deterministic key built from the event content.
func providerEventID(event webhookEvent, headers http.Header, parsed *paymentdomain.PaymentEvent) string {
	if id := strings.TrimSpace(event.ID); id != "" {
		return id
	}
	if headers != nil {
		if id := strings.TrimSpace(headers.Get(HeaderEventID)); id != "" {
			return id
		}
	}
	ref := parsed.PaymentID
	if ref == "" {
		ref = parsed.SubscriptionID
	}
	return fmt.Sprintf("%s:%s:%s", parsed.ProviderEventType, ref, parsed.PaymentStatus)
}

func mapEventType(raw string) string {
	switch raw {
	case "PAYMENT_CONFIRMED", "PAYMENT_RECEIVED":
		return paymentdomain.EventTypePaymentConfirmed
	case "PAYMENT_OVERDUE":
		return paymentdomain.EventTypePaymentOverdue
	case "PAYMENT_REFUNDED":
		return paymentdomain.EventTypePaymentRefunded
	case "PAYMENT_CREATED":
		return paymentdomain.EventTypePaymentCreated
	case "PAYMENT_UPDATED":
		return paymentdomain.EventTypePaymentUpdated
	case "SUBSCRIPTION_DELETED", "SUBSCRIPTION_INACTIVATED":
		return paymentdomain.EventTypeSubscriptionCanceled
	default:
		return strings.ToLower(raw)
	}
}

// MapPaymentStatus reduces an Asaas payment status to a query status.
func MapPaymentStatus(raw string) paymentdomain.QueryStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "RECEIVED", "CONFIRMED", "RECEIVED_IN_CASH":
		return paymentdomain.QueryStatusConfirmed
	case "PENDING", "AWAITING_RISK_ANALYSIS":
		return paymentdomain.QueryStatusPending
	case "OVERDUE":
		return paymentdomain.QueryStatusOverdue
	case "REFUNDED", "REFUND_REQUESTED", "REFUND_IN_PROGRESS":
		return paymentdomain.QueryStatusRefunded
	default:
		return paymentdomain.QueryStatusUnknown
	}
}

// ReaisToCents converts a decimal amount in reais to integer cents, rounding
// half away from zero.
func ReaisToCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return int64(math.Round(value * 100)), nil
}

// CentsToReais renders cents as the decimal value Asaas expects.
func CentsToReais(cents int64) float64 {
	return float64(cents) / 100
}

func validationToDomain(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return paymentdomain.ErrInvalidPayload
	}
	switch verrs[0].Field() {
	case "Event":
		return paymentdomain.ErrInvalidEvent
	case "Subscription":
		return paymentdomain.ErrInvalidSubscription
	case "ID":
		if strings.Contains(verrs[0].Namespace(), "Subscription") {
			return paymentdomain.ErrInvalidSubscription
		}
		return paymentdomain.ErrInvalidPayment
	default:
		return paymentdomain.ErrInvalidPayload
	}
}

func readString(cfg map[string]any, key string) (string, bool) {
	if cfg == nil {
		return "", false
	}
	value, ok := cfg[key]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
