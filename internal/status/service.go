// Package status answers client polling for a subscription's payment state.
package status

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/paysync/internal/clock"
	"github.com/smallbiznis/paysync/internal/config"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	StatusPending           = "pending"
	StatusPaidPendingSignup = "paid_pending_signup"
	StatusActive            = "active"
	StatusNotFound          = "not_found"

	fallbackKey = "paysync:status:fallback:"

	// Confirmations later than this after creation are renewals, not signups.
	firstCycleWindow = 7 * 24 * time.Hour
)

const (
	messagePastDue      = "Payment overdue. Pay the open charge or update the payment method to restore access."
	messageCanceled     = "Subscription canceled. Reactivate to restore access."
	messageReactivating = "Subscription is being replaced."
)

// PaymentStatus is the answer returned to polling clients.
type PaymentStatus struct {
	IsPaid             bool   `json:"isPaid"`
	Status             string `json:"status"`
	SubscriptionStatus string `json:"subscriptionStatus,omitempty"`
	Message            string `json:"message,omitempty"`
}

// Refresher reconciles a subscription against the provider.
type Refresher interface {
	Refresh(ctx context.Context, subscriptionID string) (reconciledomain.RefreshResult, error)
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Refresher Refresher
	Limiter   ratelimit.WindowLimiter
	Config    *config.ReconcileConfigHolder
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	refresher Refresher
	limiter   ratelimit.WindowLimiter
	cfg       *config.ReconcileConfigHolder
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("status.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		refresher: p.Refresher,
		limiter:   p.Limiter,
		cfg:       p.Config,
		metrics:   p.Metrics,
	}
}

// GetStatus reads the stored subscription and, for a pending one older than
// the freshness threshold, asks the provider at most once per fallback
// interval. It only fails on store errors; provider trouble reads as pending.
func (s *Service) GetStatus(ctx context.Context, subscriptionID string) (PaymentStatus, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return PaymentStatus{Status: StatusNotFound}, nil
	}

	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return PaymentStatus{}, err
	}
	if sub == nil {
		return PaymentStatus{Status: StatusNotFound}, nil
	}

	if sub.Status == subscriptiondomain.SubscriptionStatusPending && s.stale(*sub) {
		if refreshed, ok := s.fallback(ctx, *sub); ok {
			sub = &refreshed
		}
	}
	return s.render(*sub), nil
}

func (s *Service) stale(sub subscriptiondomain.Subscription) bool {
	return s.clock.Now().Sub(sub.CreatedAt) >= s.cfg.Get().FreshnessThreshold
}

func (s *Service) fallback(ctx context.Context, sub subscriptiondomain.Subscription) (subscriptiondomain.Subscription, bool) {
	cfg := s.cfg.Get()
	allowed, err := s.limiter.Allow(ctx, fallbackKey+sub.ID, cfg.FallbackInterval)
	if err != nil {
		s.log.Warn("fallback limiter unavailable", zap.String("subscription_id", sub.ID), zap.Error(err))
		s.metrics.RecordFallback(ctx, "limiter_error")
		return sub, false
	}
	if !allowed {
		s.metrics.RecordFallback(ctx, "rate_limited")
		return sub, false
	}

	res, err := s.refresher.Refresh(ctx, sub.ID)
	switch {
	case errors.Is(err, paymentdomain.ErrInconclusive):
		s.log.Info("provider fallback inconclusive", zap.String("subscription_id", sub.ID), zap.Error(err))
		s.metrics.RecordFallback(ctx, "inconclusive")
		return sub, false
	case err != nil:
		s.log.Warn("provider fallback failed", zap.String("subscription_id", sub.ID), zap.Error(err))
		s.metrics.RecordFallback(ctx, "error")
		return sub, false
	}

	if res.Applied {
		s.metrics.RecordFallback(ctx, "applied")
	} else {
		s.metrics.RecordFallback(ctx, "unchanged")
	}
	if res.Subscription.ID == "" {
		return sub, false
	}
	return res.Subscription, true
}

func (s *Service) render(sub subscriptiondomain.Subscription) PaymentStatus {
	switch sub.Status {
	case subscriptiondomain.SubscriptionStatusActive:
		if s.withinSignupGrace(sub) {
			return PaymentStatus{IsPaid: true, Status: StatusPaidPendingSignup}
		}
		return PaymentStatus{IsPaid: true, Status: StatusActive}
	case subscriptiondomain.SubscriptionStatusPastDue:
		return PaymentStatus{
			Status:             StatusPending,
			SubscriptionStatus: string(sub.Status),
			Message:            messagePastDue,
		}
	case subscriptiondomain.SubscriptionStatusCanceled:
		return PaymentStatus{
			Status:             StatusPending,
			SubscriptionStatus: string(sub.Status),
			Message:            messageCanceled,
		}
	case subscriptiondomain.SubscriptionStatusReactivating:
		return PaymentStatus{
			Status:             StatusPending,
			SubscriptionStatus: string(sub.Status),
			Message:            messageReactivating,
		}
	default:
		return PaymentStatus{Status: StatusPending}
	}
}

func (s *Service) withinSignupGrace(sub subscriptiondomain.Subscription) bool {
	if sub.LastConfirmedPaymentAt == nil {
		return false
	}
	if sub.LastConfirmedPaymentAt.Sub(sub.CreatedAt) > firstCycleWindow {
		return false
	}
	grace := s.cfg.Get().SignupGrace
	if grace <= 0 {
		return false
	}
	return s.clock.Now().Sub(*sub.LastConfirmedPaymentAt) < grace
}
