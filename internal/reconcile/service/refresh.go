package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/engine"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Refresh asks the provider about the subscription's latest payment and feeds
// a conclusive answer through the engine. Inconclusive answers are returned as
// ErrInconclusive and leave state untouched.
func (s *Service) Refresh(ctx context.Context, subscriptionID string) (domain.RefreshResult, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return domain.RefreshResult{}, subscriptiondomain.ErrInvalidSubscriptionID
	}

	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return domain.RefreshResult{}, err
	}
	if sub == nil {
		return domain.RefreshResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status.IsTerminal() {
		return domain.RefreshResult{Subscription: *sub}, nil
	}

	query, err := s.queryLatestPayment(ctx, *sub)
	if err != nil {
		return domain.RefreshResult{Subscription: *sub}, err
	}
	if query == nil {
		return domain.RefreshResult{Subscription: *sub}, nil
	}

	var res engine.Result
	applied := false
	err = s.withSubscriptionLock(ctx, subscriptionID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
			if err != nil {
				return err
			}
			if current == nil {
				return subscriptiondomain.ErrSubscriptionNotFound
			}
			payments, err := s.repo.ListPayments(ctx, tx, subscriptionID)
			if err != nil {
				return err
			}

			res, err = engine.ApplyQueryResult(*query, *current, payments, s.now())
			switch {
			case errors.Is(err, engine.ErrInconclusiveQuery):
				res = engine.Result{Subscription: *current, PreviousStatus: current.Status}
				return fmt.Errorf("%w: provider status %s", paymentdomain.ErrInconclusive, query.ProviderStatus)
			case errors.Is(err, engine.ErrInvalidTransition):
				s.log.Info("query result ignored: transition not permitted",
					zap.String("subscription_id", subscriptionID),
					zap.String("status", string(current.Status)),
				)
				res = engine.Result{Subscription: *current, PreviousStatus: current.Status}
				return nil
			case err != nil:
				return err
			}
			if err := s.persist(ctx, tx, res); err != nil {
				return err
			}
			applied = !res.Noop()
			return nil
		})
	})
	if err != nil {
		return domain.RefreshResult{Subscription: *sub}, err
	}

	s.afterCommit(ctx, res)
	return domain.RefreshResult{Subscription: res.Subscription, Applied: applied}, nil
}

// queryLatestPayment returns nil when the provider has no payment yet.
func (s *Service) queryLatestPayment(ctx context.Context, sub subscriptiondomain.Subscription) (*paymentdomain.PaymentQuery, error) {
	timeout := s.cfg.Get().ProviderTimeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payments, err := s.repo.ListPayments(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}
	if latest := latestOpenPayment(payments); latest != nil {
		query, err := s.gateway.GetPaymentStatus(callCtx, latest.ID)
		if err != nil {
			return nil, inconclusive(err)
		}
		return query, nil
	}

	queries, err := s.gateway.ListSubscriptionPayments(callCtx, sub.ID)
	if err != nil {
		return nil, inconclusive(err)
	}
	return pickLatestQuery(queries), nil
}

// latestOpenPayment is the newest record that can still change.
func latestOpenPayment(payments []subscriptiondomain.PaymentRecord) *subscriptiondomain.PaymentRecord {
	var latest *subscriptiondomain.PaymentRecord
	for i := range payments {
		p := payments[i]
		if p.Status != subscriptiondomain.PaymentStatusPending && p.Status != subscriptiondomain.PaymentStatusOverdue {
			continue
		}
		if latest == nil || p.DueDate.After(latest.DueDate) {
			latest = &p
		}
	}
	return latest
}

// pickLatestQuery prefers the newest confirmed payment, then the earliest open one.
func pickLatestQuery(queries []paymentdomain.PaymentQuery) *paymentdomain.PaymentQuery {
	if len(queries) == 0 {
		return nil
	}
	sorted := make([]paymentdomain.PaymentQuery, len(queries))
	copy(sorted, queries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DueDate.Before(sorted[j].DueDate)
	})
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Status == paymentdomain.QueryStatusConfirmed {
			return &sorted[i]
		}
	}
	for i := range sorted {
		if sorted[i].Status == paymentdomain.QueryStatusPending || sorted[i].Status == paymentdomain.QueryStatusOverdue {
			return &sorted[i]
		}
	}
	return &sorted[len(sorted)-1]
}

// inconclusive folds provider rejections into ErrInconclusive so a refresh
// never reports a payment failure.
func inconclusive(err error) error {
	if errors.Is(err, paymentdomain.ErrInconclusive) {
		return err
	}
	return fmt.Errorf("%w: %v", paymentdomain.ErrInconclusive, err)
}
