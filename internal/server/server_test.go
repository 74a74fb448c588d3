package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/engine"
	"github.com/smallbiznis/paysync/internal/status"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"github.com/smallbiznis/paysync/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconcileService struct {
	ingestErr   error
	lastIngest  reconciledomain.IngestWebhookRequest
	cancelErr   error
	lastCancel  reconciledomain.CancelRequest
	checkoutErr error
	lastCheck   reconciledomain.CheckoutRequest
	pix         *paymentdomain.PixCode
}

func (f *fakeReconcileService) IngestWebhook(ctx context.Context, req reconciledomain.IngestWebhookRequest) (reconciledomain.IngestWebhookResult, error) {
	f.lastIngest = req
	return reconciledomain.IngestWebhookResult{}, f.ingestErr
}

func (f *fakeReconcileService) ProcessEvent(ctx context.Context, eventID snowflake.ID) (string, error) {
	return "", nil
}

func (f *fakeReconcileService) Reprocess(ctx context.Context, limit int) (reconciledomain.ReprocessResult, error) {
	return reconciledomain.ReprocessResult{}, nil
}

func (f *fakeReconcileService) Refresh(ctx context.Context, subscriptionID string) (reconciledomain.RefreshResult, error) {
	return reconciledomain.RefreshResult{}, nil
}

func (f *fakeReconcileService) Cancel(ctx context.Context, req reconciledomain.CancelRequest) (subscriptiondomain.Subscription, error) {
	f.lastCancel = req
	if f.cancelErr != nil {
		return subscriptiondomain.Subscription{}, f.cancelErr
	}
	return subscriptiondomain.Subscription{ID: req.SubscriptionID, Status: subscriptiondomain.SubscriptionStatusCanceled}, nil
}

func (f *fakeReconcileService) Checkout(ctx context.Context, req reconciledomain.CheckoutRequest) (reconciledomain.CheckoutResponse, error) {
	f.lastCheck = req
	if f.checkoutErr != nil {
		return reconciledomain.CheckoutResponse{}, f.checkoutErr
	}
	return reconciledomain.CheckoutResponse{
		Subscription: subscriptiondomain.Subscription{
			ID:            "sub_new",
			Status:        subscriptiondomain.SubscriptionStatusPending,
			BillingMethod: req.BillingMethod,
		},
		PaymentID: "pay_1",
		Pix:       &paymentdomain.PixCode{Payload: "000201"},
	}, nil
}

func (f *fakeReconcileService) Reactivate(ctx context.Context, req reconciledomain.CheckoutRequest) (reconciledomain.CheckoutResponse, error) {
	resp, err := f.Checkout(ctx, req)
	if err != nil {
		return resp, err
	}
	resp.Previous = &subscriptiondomain.Subscription{ID: "sub_old", Status: subscriptiondomain.SubscriptionStatusCanceled}
	return resp, nil
}

func (f *fakeReconcileService) RegeneratePix(ctx context.Context, subscriptionID string) (*paymentdomain.PixCode, error) {
	if f.pix == nil {
		return nil, reconciledomain.ErrNoPendingPayment
	}
	return f.pix, nil
}

type fakeStatusReader struct {
	resp status.PaymentStatus
	err  error
}

func (f *fakeStatusReader) GetStatus(ctx context.Context, subscriptionID string) (status.PaymentStatus, error) {
	return f.resp, f.err
}

type fakeEventLister struct {
	items []paymentdomain.EventRecord
}

func (f *fakeEventLister) ListBySubscription(ctx context.Context, subscriptionID string, page pagination.Pagination) ([]paymentdomain.EventRecord, pagination.PageInfo, error) {
	if page.PageToken == "garbage" {
		return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
	}
	return f.items, pagination.PageInfo{}, nil
}

func newTestServer(svc *fakeReconcileService, statusSvc *fakeStatusReader) *Server {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:       router,
		reconcileSvc: svc,
		statusSvc:    statusSvc,
		events:       &fakeEventLister{},
	}
	srv.registerWebhookRoutes()
	srv.registerStatusRoutes()
	srv.registerSubscriptionRoutes()
	srv.registerFallback()
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out.Error
}

const checkoutBody = `{"ownerId":"owner_1","billingMethod":"pix","value":4990,"customer":{"name":"Maria Silva","email":"maria@example.com","cpfCnpj":"12345678909"}}`

func TestWebhookAcknowledgesIngestedAndDuplicateEvents(t *testing.T) {
	svc := &fakeReconcileService{}
	srv := newTestServer(svc, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/webhooks/payments/asaas", `{"event":"PAYMENT_CONFIRMED"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
	assert.Equal(t, "asaas", svc.lastIngest.Provider)
	assert.Equal(t, `{"event":"PAYMENT_CONFIRMED"}`, string(svc.lastIngest.Payload))
}

func TestWebhookErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "bad token", err: paymentdomain.ErrInvalidSignature, want: http.StatusUnauthorized},
		{name: "malformed", err: paymentdomain.ErrInvalidPayload, want: http.StatusBadRequest},
		{name: "unknown provider", err: paymentdomain.ErrProviderNotFound, want: http.StatusNotFound},
		{name: "ledger write failed", err: errors.New("connection refused"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeReconcileService{ingestErr: tc.err}, &fakeStatusReader{})
			resp := doRequest(t, srv, http.MethodPost, "/webhooks/payments/asaas", `{}`)
			assert.Equal(t, tc.want, resp.Code)
		})
	}
}

func TestGetPaymentStatus(t *testing.T) {
	statusSvc := &fakeStatusReader{resp: status.PaymentStatus{
		Status:             status.StatusPending,
		SubscriptionStatus: "past_due",
		Message:            "overdue",
	}}
	srv := newTestServer(&fakeReconcileService{}, statusSvc)

	resp := doRequest(t, srv, http.MethodGet, "/status/sub_1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"isPaid":false,"status":"pending","subscriptionStatus":"past_due","message":"overdue"}`, resp.Body.String())
	assert.Equal(t, "no-store", resp.Header().Get("Cache-Control"))

	statusSvc.resp = status.PaymentStatus{IsPaid: true, Status: status.StatusActive}
	resp = doRequest(t, srv, http.MethodGet, "/status/sub_1", "")
	assert.JSONEq(t, `{"isPaid":true,"status":"active"}`, resp.Body.String())
}

func TestCheckoutCreatesSubscription(t *testing.T) {
	svc := &fakeReconcileService{}
	srv := newTestServer(svc, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions", checkoutBody)
	require.Equal(t, http.StatusCreated, resp.Code)

	var out struct {
		Data checkoutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "sub_new", out.Data.SubscriptionID)
	assert.Equal(t, "pending", out.Data.Status)
	assert.Equal(t, "pix", out.Data.BillingMethod)
	require.NotNil(t, out.Data.Pix)
	assert.Equal(t, "000201", out.Data.Pix.Payload)
	assert.Equal(t, "owner_1", svc.lastCheck.OwnerID)
	assert.Equal(t, int64(4990), svc.lastCheck.Value)
}

func TestCheckoutValidation(t *testing.T) {
	srv := newTestServer(&fakeReconcileService{}, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions",
		`{"ownerId":"owner_1","billingMethod":"credit_card","value":4990,"customer":{"name":"Maria","email":"not-an-email","cpfCnpj":"12345678909"}}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	payload := decodeError(t, resp)
	assert.Equal(t, "validation_error", payload.Type)
	fields := map[string]string{}
	for _, e := range payload.Errors {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, "email", fields["customer.email"])
	assert.Equal(t, "required_if", fields["creditCard"])

	resp = doRequest(t, srv, http.MethodPost, "/subscriptions", `{"ownerId":`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCheckoutConflict(t *testing.T) {
	srv := newTestServer(&fakeReconcileService{checkoutErr: subscriptiondomain.ErrOpenSubscriptionExists}, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions", checkoutBody)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "conflict", decodeError(t, resp).Type)
}

func TestReactivateReportsReplacedSubscription(t *testing.T) {
	srv := newTestServer(&fakeReconcileService{}, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions/reactivate", checkoutBody)
	require.Equal(t, http.StatusOK, resp.Code)

	var out struct {
		Data checkoutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "sub_new", out.Data.SubscriptionID)
	assert.Equal(t, "sub_old", out.Data.PreviousSubscriptionID)
}

func TestReactivateProviderUnavailable(t *testing.T) {
	svc := &fakeReconcileService{checkoutErr: fmt.Errorf("create customer: %w: timeout", paymentdomain.ErrInconclusive)}
	srv := newTestServer(svc, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions/reactivate", checkoutBody)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestProviderRejectionCarriesDescription(t *testing.T) {
	svc := &fakeReconcileService{checkoutErr: fmt.Errorf("create subscription: %w: invalid card number", paymentdomain.ErrProviderRejected)}
	srv := newTestServer(svc, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions", checkoutBody)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "invalid card number", decodeError(t, resp).Message)
}

func TestCancelSubscription(t *testing.T) {
	svc := &fakeReconcileService{}
	srv := newTestServer(svc, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions/sub_1/cancel", `{"reason":"too expensive"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"id":"sub_1","status":"canceled"}}`, resp.Body.String())
	assert.Equal(t, "too expensive", svc.lastCancel.Reason)

	resp = doRequest(t, srv, http.MethodPost, "/subscriptions/sub_1/cancel", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, svc.lastCancel.Reason)
}

func TestCancelErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: subscriptiondomain.ErrSubscriptionNotFound, want: http.StatusNotFound},
		{name: "already canceled", err: engine.ErrInvalidTransition, want: http.StatusConflict},
		{name: "busy", err: fmt.Errorf("%w: subscription sub_1", reconciledomain.ErrBusy), want: http.StatusConflict},
		{name: "provider down", err: fmt.Errorf("cancel at provider: %w", paymentdomain.ErrInconclusive), want: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeReconcileService{cancelErr: tc.err}, &fakeStatusReader{})
			resp := doRequest(t, srv, http.MethodPost, "/subscriptions/sub_1/cancel", "")
			assert.Equal(t, tc.want, resp.Code)
		})
	}
}

func TestRegeneratePix(t *testing.T) {
	svc := &fakeReconcileService{}
	srv := newTestServer(svc, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodPost, "/subscriptions/sub_1/pix", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	svc.pix = &paymentdomain.PixCode{Payload: "000201", EncodedImage: "iVBOR"}
	resp = doRequest(t, srv, http.MethodPost, "/subscriptions/sub_1/pix", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"encodedImage":"iVBOR","payload":"000201","expirationDate":""}}`, resp.Body.String())
}

func TestListSubscriptionEventsRejectsBadToken(t *testing.T) {
	srv := newTestServer(&fakeReconcileService{}, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodGet, "/subscriptions/sub_1/events?page_token=garbage", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doRequest(t, srv, http.MethodGet, "/subscriptions/sub_1/events", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":null,"page_info":{"has_more":false}}`, resp.Body.String())
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	srv := newTestServer(&fakeReconcileService{}, &fakeStatusReader{})

	resp := doRequest(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeError(t, resp).Type)
}

type stubBucket struct {
	result *ratelimit.RateLimitResult
	err    error
}

func (b stubBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*ratelimit.RateLimitResult, error) {
	return b.result, b.err
}

func TestStatusRateLimited(t *testing.T) {
	srv := newTestServer(&fakeReconcileService{}, &fakeStatusReader{})
	srv.limiter = ratelimit.NewBucketEndpointLimiter(stubBucket{
		result: &ratelimit.RateLimitResult{Allowed: false, RetryAfter: 1500 * time.Millisecond},
	})
	srv.engine = gin.New()
	srv.engine.Use(ErrorHandlingMiddleware())
	srv.registerStatusRoutes()

	resp := doRequest(t, srv, http.MethodGet, "/status/sub_1", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "2", resp.Header().Get("Retry-After"))
	assert.Equal(t, "endpoint-rate", resp.Header().Get("X-Rate-Limited-Reason"))
}

func TestRateLimiterFailureFailsClosed(t *testing.T) {
	srv := newTestServer(&fakeReconcileService{}, &fakeStatusReader{})
	srv.limiter = ratelimit.NewBucketEndpointLimiter(stubBucket{err: errors.New("redis down")})
	srv.engine = gin.New()
	srv.engine.Use(ErrorHandlingMiddleware())
	srv.registerWebhookRoutes()

	resp := doRequest(t, srv, http.MethodPost, "/webhooks/payments/asaas", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
