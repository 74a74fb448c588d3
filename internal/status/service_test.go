package status

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/paysync/internal/clock"
	"github.com/smallbiznis/paysync/internal/config"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
	"github.com/smallbiznis/paysync/internal/storetest"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/paysync/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var createdAt = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	fn    func(id string) (reconciledomain.RefreshResult, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, subscriptionID string) (reconciledomain.RefreshResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return reconciledomain.RefreshResult{}, nil
	}
	return f.fn(subscriptionID)
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	repo      subscriptiondomain.Repository
	clock     *clock.FakeClock
	refresher *fakeRefresher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.Open(t)
	clk := clock.NewFakeClock(createdAt)
	repo := subscriptionrepo.Provide()
	refresher := &fakeRefresher{}

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clk,
		Repo:      repo,
		Refresher: refresher,
		Limiter:   ratelimit.NewMemoryWindowLimiter(clk),
		Config:    config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()),
	})
	return &fixture{svc: svc, db: db, repo: repo, clock: clk, refresher: refresher}
}

func (f *fixture) insert(t *testing.T, sub subscriptiondomain.Subscription) subscriptiondomain.Subscription {
	t.Helper()
	if sub.OwnerID == "" {
		sub.OwnerID = "owner_" + sub.ID
	}
	sub.BillingMethod = subscriptiondomain.BillingMethodPix
	sub.Value = 4990
	sub.CreatedAt = createdAt
	sub.UpdatedAt = createdAt
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &sub))
	return sub
}

func TestGetStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.GetStatus(context.Background(), "sub_missing")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatus{Status: StatusNotFound}, got)
	assert.Zero(t, f.refresher.count())
}

func TestGetStatus_FreshPendingUsesFastPath(t *testing.T) {
	f := newFixture(t)
	f.insert(t, subscriptiondomain.Subscription{ID: "sub_1", Status: subscriptiondomain.SubscriptionStatusPending})

	f.clock.Advance(10 * time.Second)
	got, err := f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatus{Status: StatusPending}, got)
	assert.Zero(t, f.refresher.count())
}

func TestGetStatus_ActiveRendering(t *testing.T) {
	f := newFixture(t)
	confirmed := createdAt.Add(time.Minute)
	f.insert(t, subscriptiondomain.Subscription{
		ID:                     "sub_1",
		Status:                 subscriptiondomain.SubscriptionStatusActive,
		LastConfirmedPaymentAt: &confirmed,
	})

	f.clock.Set(confirmed.Add(2 * time.Minute))
	got, err := f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatus{IsPaid: true, Status: StatusPaidPendingSignup}, got)

	f.clock.Set(confirmed.Add(time.Hour))
	got, err = f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatus{IsPaid: true, Status: StatusActive}, got)
}

func TestGetStatus_RenewalIsNotSignup(t *testing.T) {
	f := newFixture(t)
	renewed := createdAt.AddDate(0, 1, 0)
	f.insert(t, subscriptiondomain.Subscription{
		ID:                     "sub_1",
		Status:                 subscriptiondomain.SubscriptionStatusActive,
		LastConfirmedPaymentAt: &renewed,
	})

	f.clock.Set(renewed.Add(time.Minute))
	got, err := f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatus{IsPaid: true, Status: StatusActive}, got)
}

func TestGetStatus_PastDueAndCanceled(t *testing.T) {
	f := newFixture(t)
	f.insert(t, subscriptiondomain.Subscription{ID: "sub_1", Status: subscriptiondomain.SubscriptionStatusPastDue})
	reason := "requested"
	f.insert(t, subscriptiondomain.Subscription{
		ID:           "sub_2",
		Status:       subscriptiondomain.SubscriptionStatusCanceled,
		CancelReason: &reason,
		CanceledAt:   &createdAt,
	})

	got, err := f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "past_due", got.SubscriptionStatus)
	assert.NotEmpty(t, got.Message)

	got, err = f.svc.GetStatus(context.Background(), "sub_2")
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Equal(t, "canceled", got.SubscriptionStatus)
	assert.NotEmpty(t, got.Message)
	assert.Zero(t, f.refresher.count())
}

func TestGetStatus_StalePendingFallsBackToProvider(t *testing.T) {
	f := newFixture(t)
	sub := f.insert(t, subscriptiondomain.Subscription{ID: "sub_1", Status: subscriptiondomain.SubscriptionStatusPending})

	f.clock.Advance(time.Hour)
	confirmed := f.clock.Now().Add(-30 * time.Minute)
	f.refresher.fn = func(id string) (reconciledomain.RefreshResult, error) {
		require.Equal(t, "sub_1", id)
		active := sub
		active.Status = subscriptiondomain.SubscriptionStatusActive
		active.LastConfirmedPaymentAt = &confirmed
		return reconciledomain.RefreshResult{Subscription: active, Applied: true}, nil
	}

	got, err := f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatus{IsPaid: true, Status: StatusActive}, got)
	assert.Equal(t, 1, f.refresher.count())
}

func TestGetStatus_FallbackIsRateLimited(t *testing.T) {
	f := newFixture(t)
	f.insert(t, subscriptiondomain.Subscription{ID: "sub_1", Status: subscriptiondomain.SubscriptionStatusPending})
	f.clock.Advance(time.Minute)

	for i := 0; i < 5; i++ {
		got, err := f.svc.GetStatus(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
	}
	assert.Equal(t, 1, f.refresher.count())

	f.clock.Advance(config.DefaultReconcileConfig().FallbackInterval)
	_, err := f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.refresher.count())
}

func TestGetStatus_ProviderTimeoutReadsAsPending(t *testing.T) {
	f := newFixture(t)
	f.insert(t, subscriptiondomain.Subscription{ID: "sub_1", Status: subscriptiondomain.SubscriptionStatusPending})
	f.clock.Advance(time.Minute)

	f.refresher.fn = func(id string) (reconciledomain.RefreshResult, error) {
		return reconciledomain.RefreshResult{}, fmt.Errorf("%w: timeout", paymentdomain.ErrInconclusive)
	}

	got, err := f.svc.GetStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatus{IsPaid: false, Status: StatusPending}, got)

	stored, err := f.repo.FindByID(context.Background(), f.db, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPending, stored.Status)
	assert.True(t, stored.UpdatedAt.Equal(createdAt))
}
