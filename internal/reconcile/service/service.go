package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/paysync/internal/archive"
	"github.com/smallbiznis/paysync/internal/clock"
	"github.com/smallbiznis/paysync/internal/config"
	"github.com/smallbiznis/paysync/internal/events"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	"github.com/smallbiznis/paysync/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/payment/ledger"
	"github.com/smallbiznis/paysync/internal/ratelimit"
	"github.com/smallbiznis/paysync/internal/reconcile/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/engine"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockKeySubscription = "paysync:lock:subscription:%s"
	lockKeyOwner        = "paysync:lock:owner:%s"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	repo      subscriptiondomain.Repository
	ledger    *ledger.Ledger
	registry  *adapters.Registry
	gateway   paymentdomain.Gateway
	locker    ratelimit.Locker
	publisher events.Publisher
	archiver  archive.Archiver
	cfg       *config.ReconcileConfigHolder
	metrics   *obsmetrics.Metrics
	jobs      *obsmetrics.JobMetrics
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Ledger    *ledger.Ledger
	Registry  *adapters.Registry
	Gateway   paymentdomain.Gateway
	Locker    ratelimit.Locker
	Publisher events.Publisher
	Archiver  archive.Archiver
	Config    *config.ReconcileConfigHolder
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) domain.Service {
	return New(p)
}

// New returns the concrete service; tests use it to reach unexported helpers.
func New(p ServiceParam) *Service {
	archiver := p.Archiver
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("reconcile.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		ledger:    p.Ledger,
		registry:  p.Registry,
		gateway:   p.Gateway,
		locker:    p.Locker,
		publisher: p.Publisher,
		archiver:  archiver,
		cfg:       p.Config,
		metrics:   p.Metrics,
		jobs:      obsmetrics.Jobs(),
	}
}

// withLock runs fn while holding the named lock. Acquisition waits at most
// the configured lock wait.
func (s *Service) withLock(ctx context.Context, resource, keyFormat, id string, fn func() error) error {
	cfg := s.cfg.Get()
	lockCtx, cancel := context.WithTimeout(ctx, cfg.LockWait)
	defer cancel()

	start := time.Now()
	release, err := s.locker.Acquire(lockCtx, fmt.Sprintf(keyFormat, id), cfg.LockTTL)
	s.jobs.ObserveLockWait(resource, time.Since(start))
	if err != nil {
		if errors.Is(err, ratelimit.ErrLockTimeout) {
			return fmt.Errorf("%w: %s %s", domain.ErrBusy, resource, id)
		}
		return err
	}
	defer release()
	return fn()
}

func (s *Service) withSubscriptionLock(ctx context.Context, subscriptionID string, fn func() error) error {
	return s.withLock(ctx, obsmetrics.LockResourceSubscription, lockKeySubscription, subscriptionID, fn)
}

func (s *Service) withOwnerLock(ctx context.Context, ownerID string, fn func() error) error {
	return s.withLock(ctx, obsmetrics.LockResourceOwner, lockKeyOwner, ownerID, fn)
}

// persist writes an engine result on tx. The status guard makes a concurrent
// writer that bypassed the lock fail instead of being overwritten.
func (s *Service) persist(ctx context.Context, tx *gorm.DB, res engine.Result) error {
	if res.SubscriptionChanged {
		sub := res.Subscription
		if err := s.repo.UpdateState(ctx, tx, &sub, res.PreviousStatus); err != nil {
			return fmt.Errorf("update subscription %s: %w", sub.ID, err)
		}
	}
	if res.PaymentRecord != nil {
		record := *res.PaymentRecord
		record.SubscriptionID = res.Subscription.ID
		if err := s.repo.UpsertPayment(ctx, tx, &record); err != nil {
			return fmt.Errorf("upsert payment %s: %w", record.ID, err)
		}
	}
	return nil
}

// afterCommit publishes effects and records transition metrics. Publishing
// failures are logged; stored state is never rolled back.
func (s *Service) afterCommit(ctx context.Context, res engine.Result) {
	if res.StatusChanged() {
		s.metrics.RecordTransition(ctx, string(res.PreviousStatus), string(res.Subscription.Status))
		s.log.Info("subscription transitioned",
			zap.String("subscription_id", res.Subscription.ID),
			zap.String("from", string(res.PreviousStatus)),
			zap.String("to", string(res.Subscription.Status)),
		)
	}
	if len(res.Effects) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, res.Effects); err != nil {
		s.log.Error("failed to publish effects",
			zap.String("subscription_id", res.Subscription.ID),
			zap.Int("count", len(res.Effects)),
			zap.Error(err),
		)
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

var _ domain.Service = (*Service)(nil)
