package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/paysync/internal/config"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paysync/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
	userAgent      = "paysync"
)

type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type GatewayParams struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// NewGateway builds the Asaas gateway from application config.
func NewGateway(p GatewayParams) paymentdomain.Gateway {
	return NewClient(ClientConfig{
		BaseURL: p.Config.Asaas.BaseURL,
		APIKey:  p.Config.Asaas.APIKey,
		Timeout: p.Config.Asaas.Timeout,
	}, p.Log, p.Metrics)
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewClient(cfg ClientConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		log:     log.Named("asaas.gateway"),
		metrics: metrics,
	}
}

type apiErrorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

type apiCustomer struct {
	ID string `json:"id"`
}

type apiSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

type apiPayment struct {
	ID            string      `json:"id"`
	Subscription  string      `json:"subscription"`
	Status        string      `json:"status"`
	Value         json.Number `json:"value"`
	BillingType   string      `json:"billingType"`
	DueDate       string      `json:"dueDate"`
	ConfirmedDate string      `json:"confirmedDate"`
	PaymentDate   string      `json:"paymentDate"`
	BankSlipURL   string      `json:"bankSlipUrl"`
}

type apiPaymentList struct {
	Data    []apiPayment `json:"data"`
	HasMore bool         `json:"hasMore"`
}

type apiIdentificationField struct {
	IdentificationField string `json:"identificationField"`
	BarCode             string `json:"barCode"`
}

type customerBody struct {
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	CPFCNPJ           string `json:"cpfCnpj"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	PostalCode        string `json:"postalCode,omitempty"`
	AddressNumber     string `json:"addressNumber,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type creditCardBody struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

type holderInfoBody struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	CPFCNPJ       string `json:"cpfCnpj"`
	PostalCode    string `json:"postalCode"`
	AddressNumber string `json:"addressNumber"`
	Phone         string `json:"phone,omitempty"`
}

type subscriptionBody struct {
	Customer             string          `json:"customer"`
	BillingType          string          `json:"billingType"`
	Value                float64         `json:"value"`
	NextDueDate          string          `json:"nextDueDate"`
	Cycle                string          `json:"cycle"`
	Description          string          `json:"description,omitempty"`
	ExternalReference    string          `json:"externalReference,omitempty"`
	CreditCard           *creditCardBody `json:"creditCard,omitempty"`
	CreditCardHolderInfo *holderInfoBody `json:"creditCardHolderInfo,omitempty"`
	RemoteIP             string          `json:"remoteIp,omitempty"`
}

func (c *Client) CreateCustomer(ctx context.Context, customer paymentdomain.Customer) (string, error) {
	body := customerBody{
		Name:              strings.TrimSpace(customer.Name),
		Email:             strings.TrimSpace(customer.Email),
		CPFCNPJ:           digitsOnly(customer.CPFCNPJ),
		MobilePhone:       digitsOnly(customer.Phone),
		PostalCode:        digitsOnly(customer.PostalCode),
		AddressNumber:     strings.TrimSpace(customer.AddressNumber),
		ExternalReference: strings.TrimSpace(customer.ExternalRef),
	}
	var out apiCustomer
	if err := c.do(ctx, "create_customer", http.MethodPost, "/customers", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: customer id missing", paymentdomain.ErrInconclusive)
	}
	return out.ID, nil
}

func (c *Client) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.ProviderSubscription, error) {
	billingType, err := providerBillingType(req.BillingMethod)
	if err != nil {
		return nil, err
	}
	body := subscriptionBody{
		Customer:          req.CustomerID,
		BillingType:       billingType,
		Value:             CentsToReais(req.Value),
		NextDueDate:       req.NextDueDate.UTC().Format(dateLayout),
		Cycle:             "MONTHLY",
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		RemoteIP:          req.RemoteIP,
	}
	if req.CreditCard != nil {
		body.CreditCard = &creditCardBody{
			HolderName:  req.CreditCard.HolderName,
			Number:      digitsOnly(req.CreditCard.Number),
			ExpiryMonth: req.CreditCard.ExpiryMonth,
			ExpiryYear:  req.CreditCard.ExpiryYear,
			CCV:         req.CreditCard.CCV,
		}
	}
	if req.Holder != nil && body.CreditCard != nil {
		body.CreditCardHolderInfo = &holderInfoBody{
			Name:          req.Holder.Name,
			Email:         req.Holder.Email,
			CPFCNPJ:       digitsOnly(req.Holder.CPFCNPJ),
			PostalCode:    digitsOnly(req.Holder.PostalCode),
			AddressNumber: req.Holder.AddressNumber,
			Phone:         digitsOnly(req.Holder.Phone),
		}
	}

	var out apiSubscription
	if err := c.do(ctx, "create_subscription", http.MethodPost, "/subscriptions", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: subscription id missing", paymentdomain.ErrInconclusive)
	}
	return &paymentdomain.ProviderSubscription{ID: out.ID, CustomerID: out.Customer, Status: out.Status}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*paymentdomain.PaymentQuery, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayment
	}
	var out apiPayment
	if err := c.do(ctx, "get_payment", http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	return toPaymentQuery(out)
}

func (c *Client) ListSubscriptionPayments(ctx context.Context, subscriptionID string) ([]paymentdomain.PaymentQuery, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, paymentdomain.ErrInvalidSubscription
	}
	var out apiPaymentList
	path := "/subscriptions/" + url.PathEscape(subscriptionID) + "/payments"
	if err := c.do(ctx, "list_subscription_payments", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	queries := make([]paymentdomain.PaymentQuery, 0, len(out.Data))
	for _, item := range out.Data {
		query, err := toPaymentQuery(item)
		if err != nil {
			return nil, err
		}
		if query.SubscriptionID == "" {
			query.SubscriptionID = subscriptionID
		}
		queries = append(queries, *query)
	}
	return queries, nil
}

func (c *Client) RegeneratePixCode(ctx context.Context, paymentID string) (*paymentdomain.PixCode, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayment
	}
	var out paymentdomain.PixCode
	if err := c.do(ctx, "pix_qr_code", http.MethodGet, "/payments/"+url.PathEscape(paymentID)+"/pixQrCode", nil, &out); err != nil {
		return nil, err
	}
	if out.Payload == "" {
		return nil, fmt.Errorf("%w: pix payload missing", paymentdomain.ErrInconclusive)
	}
	return &out, nil
}

func (c *Client) GetBoleto(ctx context.Context, paymentID string) (*paymentdomain.Boleto, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayment
	}
	var payment apiPayment
	if err := c.do(ctx, "get_payment", http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return nil, err
	}
	var field apiIdentificationField
	if err := c.do(ctx, "boleto_identification", http.MethodGet, "/payments/"+url.PathEscape(paymentID)+"/identificationField", nil, &field); err != nil {
		return nil, err
	}
	return &paymentdomain.Boleto{
		BankSlipURL:         payment.BankSlipURL,
		IdentificationField: field.IdentificationField,
		BarCode:             field.BarCode,
		DueDate:             payment.DueDate,
	}, nil
}

// CancelSubscription deletes the subscription at Asaas. The provider keeps no
// cancellation reason, so it is only logged here.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, reason string) error {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return paymentdomain.ErrInvalidSubscription
	}
	if err := c.do(ctx, "cancel_subscription", http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, nil); err != nil {
		return err
	}
	c.log.Info("subscription canceled at provider",
		zap.String("subscription_id", subscriptionID),
		zap.String("reason", reason),
	)
	return nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) (err error) {
	if c.apiKey == "" || c.baseURL == "" {
		return paymentdomain.ErrGatewayNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := obstracing.StartSpan(ctx, "asaas."+operation,
		attribute.String("provider", Provider),
		attribute.String("operation", operation),
	)
	start := time.Now()
	defer func() {
		outcome := outcomeOf(err)
		c.metrics.ObserveProviderCall(ctx, operation, outcome, time.Since(start))
		if err != nil {
			span.RecordError(obstracing.SafeError(err))
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		encoded, mErr := json.Marshal(body)
		if mErr != nil {
			return mErr
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("access_token", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", paymentdomain.ErrInconclusive, transportReason(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %s", paymentdomain.ErrInconclusive, transportReason(err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", paymentdomain.ErrInconclusive, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s", paymentdomain.ErrProviderRejected, describeAPIError(resp.StatusCode, raw))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: undecodable response", paymentdomain.ErrInconclusive)
	}
	return nil
}

func toPaymentQuery(payment apiPayment) (*paymentdomain.PaymentQuery, error) {
	if strings.TrimSpace(payment.ID) == "" {
		return nil, fmt.Errorf("%w: payment id missing", paymentdomain.ErrInconclusive)
	}
	value, err := ReaisToCents(payment.Value.String())
	if err != nil {
		return nil, fmt.Errorf("%w: payment value", paymentdomain.ErrInconclusive)
	}
	due, err := time.Parse(dateLayout, payment.DueDate)
	if err != nil {
		return nil, fmt.Errorf("%w: payment due date", paymentdomain.ErrInconclusive)
	}
	query := &paymentdomain.PaymentQuery{
		PaymentID:      payment.ID,
		SubscriptionID: payment.Subscription,
		Status:         MapPaymentStatus(payment.Status),
		ProviderStatus: strings.ToUpper(strings.TrimSpace(payment.Status)),
		Value:          value,
		DueDate:        due.UTC(),
		BillingType:    strings.ToUpper(strings.TrimSpace(payment.BillingType)),
	}
	if confirmed := firstNonEmpty(payment.ConfirmedDate, payment.PaymentDate); confirmed != "" {
		if parsed, err := time.Parse(dateLayout, confirmed); err == nil {
			parsed = parsed.UTC()
			query.ConfirmedDate = &parsed
		}
	}
	return query, nil
}

func providerBillingType(method string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "credit_card":
		return "CREDIT_CARD", nil
	case "pix":
		return "PIX", nil
	case "boleto":
		return "BOLETO", nil
	default:
		return "", paymentdomain.ErrInvalidConfig
	}
}

func describeAPIError(status int, raw []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil && len(apiErr.Errors) > 0 {
		first := apiErr.Errors[0]
		return fmt.Sprintf("status %d %s: %s", status, first.Code, first.Description)
	}
	return fmt.Sprintf("status %d", status)
}

func transportReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "transport error"
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, paymentdomain.ErrInconclusive):
		return "inconclusive"
	case errors.Is(err, paymentdomain.ErrProviderRejected):
		return "rejected"
	default:
		return "error"
	}
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ paymentdomain.Gateway = (*Client)(nil)
