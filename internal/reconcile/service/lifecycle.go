package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/domain"
	"github.com/smallbiznis/paysync/internal/reconcile/engine"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reasonReactivated = "reactivated"

// Cancel cancels the subscription at the provider first and then locally, so
// a provider failure leaves the stored state untouched.
func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (subscriptiondomain.Subscription, error) {
	id := strings.TrimSpace(req.SubscriptionID)
	if id == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscriptionID
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "requested"
	}

	var res engine.Result
	err := s.withSubscriptionLock(ctx, id, func() error {
		current, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return err
		}
		if current == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		res, err = engine.Cancel(*current, reason, s.now())
		if err != nil {
			return err
		}

		if err := s.cancelAtProvider(ctx, id, reason); err != nil {
			return err
		}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.persist(ctx, tx, res)
		})
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.afterCommit(ctx, res)
	return res.Subscription, nil
}

// Checkout creates the owner's first subscription.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if err := validateCheckout(req); err != nil {
		return domain.CheckoutResponse{}, err
	}

	var resp domain.CheckoutResponse
	err := s.withOwnerLock(ctx, req.OwnerID, func() error {
		open, err := s.repo.FindOpenByOwner(ctx, s.db, req.OwnerID)
		if err != nil {
			return err
		}
		if open != nil {
			return subscriptiondomain.ErrOpenSubscriptionExists
		}

		sub, err := s.createAtProvider(ctx, req)
		if err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.repo.Insert(ctx, tx, &sub)
		}); err != nil {
			return err
		}
		resp.Subscription = sub
		return nil
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", resp.Subscription.ID),
		zap.String("billing_method", string(resp.Subscription.BillingMethod)),
	)
	s.attachFirstPayment(ctx, &resp)
	return resp, nil
}

// Reactivate replaces the owner's subscription with a fresh one. The old id
// is canceled and never reused.
func (s *Service) Reactivate(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if err := validateCheckout(req); err != nil {
		return domain.CheckoutResponse{}, err
	}

	var (
		resp     domain.CheckoutResponse
		finished engine.Result
	)
	err := s.withOwnerLock(ctx, req.OwnerID, func() error {
		old, err := s.repo.FindOpenByOwner(ctx, s.db, req.OwnerID)
		if err != nil {
			return err
		}
		if old == nil {
			sub, err := s.createAtProvider(ctx, req)
			if err != nil {
				return err
			}
			resp.Subscription = sub
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return s.repo.Insert(ctx, tx, &sub)
			})
		}

		return s.withSubscriptionLock(ctx, old.ID, func() error {
			var err error
			resp.Subscription, finished, err = s.replace(ctx, *old, req)
			if err != nil {
				return err
			}
			previous := finished.Subscription
			resp.Previous = &previous
			return nil
		})
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.afterCommit(ctx, finished)
	s.log.Info("subscription reactivated",
		zap.String("subscription_id", resp.Subscription.ID),
		zap.String("owner_id", resp.Subscription.OwnerID),
	)
	s.attachFirstPayment(ctx, &resp)
	return resp, nil
}

// replace runs begin, provider cancel, create and complete for one
// reactivation. The old subscription is canceled at the provider before the
// new one is created. Callers hold the owner and subscription locks.
func (s *Service) replace(ctx context.Context, old subscriptiondomain.Subscription, req domain.CheckoutRequest) (subscriptiondomain.Subscription, engine.Result, error) {
	begin, err := engine.BeginReactivation(old, s.now())
	if err != nil {
		return subscriptiondomain.Subscription{}, engine.Result{}, err
	}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.persist(ctx, tx, begin)
	}); err != nil {
		return subscriptiondomain.Subscription{}, engine.Result{}, err
	}

	if err := s.cancelAtProvider(ctx, old.ID, reasonReactivated); err != nil {
		s.abortReactivation(ctx, begin.Subscription, old.Status)
		return subscriptiondomain.Subscription{}, engine.Result{}, err
	}

	finished, err := engine.CompleteReactivation(begin.Subscription, reasonReactivated, s.now())
	if err != nil {
		return subscriptiondomain.Subscription{}, engine.Result{}, err
	}

	sub, err := s.createAtProvider(ctx, req)
	if err != nil {
		// Already canceled at the provider; the owner retries with nothing open.
		if perr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.persist(ctx, tx, finished)
		}); perr != nil {
			s.log.Error("failed to cancel replaced subscription after create failure",
				zap.String("subscription_id", old.ID),
				zap.Error(perr),
			)
		} else {
			s.afterCommit(ctx, finished)
		}
		return subscriptiondomain.Subscription{}, engine.Result{}, err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.persist(ctx, tx, finished); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, &sub)
	}); err != nil {
		return subscriptiondomain.Subscription{}, engine.Result{}, err
	}
	return sub, finished, nil
}

func (s *Service) abortReactivation(ctx context.Context, current subscriptiondomain.Subscription, previous subscriptiondomain.SubscriptionStatus) {
	res, err := engine.AbortReactivation(current, previous, s.now())
	if err == nil {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.persist(ctx, tx, res)
		})
	}
	if err != nil {
		s.log.Error("failed to restore subscription after aborted reactivation",
			zap.String("subscription_id", current.ID),
			zap.Error(err),
		)
	}
}

// RegeneratePix returns a fresh PIX code for the subscription's open payment.
func (s *Service) RegeneratePix(ctx context.Context, subscriptionID string) (*paymentdomain.PixCode, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status.IsTerminal() {
		return nil, subscriptiondomain.ErrCanceledIsTerminal
	}
	if sub.BillingMethod != subscriptiondomain.BillingMethodPix {
		return nil, subscriptiondomain.ErrInvalidBillingMethod
	}

	paymentID, err := s.openPaymentID(ctx, *sub)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Get().ProviderTimeout)
	defer cancel()
	return s.gateway.RegeneratePixCode(callCtx, paymentID)
}

func (s *Service) openPaymentID(ctx context.Context, sub subscriptiondomain.Subscription) (string, error) {
	payments, err := s.repo.ListPayments(ctx, s.db, sub.ID)
	if err != nil {
		return "", err
	}
	if open := latestOpenPayment(payments); open != nil {
		return open.ID, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Get().ProviderTimeout)
	defer cancel()
	queries, err := s.gateway.ListSubscriptionPayments(callCtx, sub.ID)
	if err != nil {
		return "", err
	}
	for _, q := range queries {
		if q.Status == paymentdomain.QueryStatusPending || q.Status == paymentdomain.QueryStatusOverdue {
			return q.PaymentID, nil
		}
	}
	return "", domain.ErrNoPendingPayment
}

func (s *Service) createAtProvider(ctx context.Context, req domain.CheckoutRequest) (subscriptiondomain.Subscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Get().ProviderTimeout)
	defer cancel()

	customer := paymentdomain.Customer{
		Name:          req.Customer.Name,
		Email:         req.Customer.Email,
		CPFCNPJ:       req.Customer.CPFCNPJ,
		Phone:         req.Customer.Phone,
		PostalCode:    req.Customer.PostalCode,
		AddressNumber: req.Customer.AddressNumber,
		ExternalRef:   req.OwnerID,
	}
	customerID, err := s.gateway.CreateCustomer(callCtx, customer)
	if err != nil {
		return subscriptiondomain.Subscription{}, fmt.Errorf("create customer: %w", err)
	}

	now := s.now()
	createReq := paymentdomain.CreateSubscriptionRequest{
		CustomerID:        customerID,
		BillingMethod:     string(req.BillingMethod),
		Value:             req.Value,
		NextDueDate:       now,
		Description:       req.Description,
		ExternalReference: req.OwnerID,
		RemoteIP:          req.RemoteIP,
	}
	if req.BillingMethod == subscriptiondomain.BillingMethodCreditCard {
		createReq.CreditCard = req.CreditCard
		createReq.Holder = &customer
	}
	providerSub, err := s.gateway.CreateSubscription(callCtx, createReq)
	if err != nil {
		return subscriptiondomain.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	return engine.NewSubscription(engine.NewSubscriptionParams{
		ID:                 providerSub.ID,
		OwnerID:            req.OwnerID,
		BillingMethod:      req.BillingMethod,
		Value:              req.Value,
		ProviderCustomerID: customerID,
	}, now)
}

func (s *Service) cancelAtProvider(ctx context.Context, subscriptionID, reason string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Get().ProviderTimeout)
	defer cancel()
	if err := s.gateway.CancelSubscription(callCtx, subscriptionID, reason); err != nil {
		return fmt.Errorf("cancel at provider: %w", err)
	}
	return nil
}

// attachFirstPayment stores the first provider payment and fetches the PIX or
// boleto details for it. Every step is best effort; webhooks and the status
// fallback fill in anything missed here.
func (s *Service) attachFirstPayment(ctx context.Context, resp *domain.CheckoutResponse) {
	sub := resp.Subscription
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Get().ProviderTimeout)
	defer cancel()

	queries, err := s.gateway.ListSubscriptionPayments(callCtx, sub.ID)
	if err != nil {
		s.log.Warn("first payment not available yet", zap.String("subscription_id", sub.ID), zap.Error(err))
		return
	}
	query := pickLatestQuery(queries)
	if query == nil {
		return
	}
	resp.PaymentID = query.PaymentID

	if err := s.applyQuery(ctx, sub.ID, *query); err != nil {
		s.log.Warn("failed to store first payment", zap.String("subscription_id", sub.ID), zap.Error(err))
	}

	switch sub.BillingMethod {
	case subscriptiondomain.BillingMethodPix:
		pix, err := s.gateway.RegeneratePixCode(callCtx, query.PaymentID)
		if err != nil {
			s.log.Warn("pix code not available", zap.String("payment_id", query.PaymentID), zap.Error(err))
			return
		}
		resp.Pix = pix
	case subscriptiondomain.BillingMethodBoleto:
		boleto, err := s.gateway.GetBoleto(callCtx, query.PaymentID)
		if err != nil {
			s.log.Warn("boleto not available", zap.String("payment_id", query.PaymentID), zap.Error(err))
			return
		}
		resp.Boleto = boleto
	}
}

func (s *Service) applyQuery(ctx context.Context, subscriptionID string, query paymentdomain.PaymentQuery) error {
	var res engine.Result
	err := s.withSubscriptionLock(ctx, subscriptionID, func() error {
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
			res, err = engine.ApplyQueryResult(query, *current, payments, s.now())
			if err != nil {
				return err
			}
			return s.persist(ctx, tx, res)
		})
	})
	if err != nil {
		if errors.Is(err, engine.ErrInconclusiveQuery) {
			return nil
		}
		return err
	}
	s.afterCommit(ctx, res)
	return nil
}

func validateCheckout(req domain.CheckoutRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return subscriptiondomain.ErrInvalidOwnerID
	}
	if !req.BillingMethod.Valid() {
		return subscriptiondomain.ErrInvalidBillingMethod
	}
	if req.Value <= 0 {
		return subscriptiondomain.ErrInvalidValue
	}
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.CPFCNPJ) == "" {
		return domain.ErrInvalidCustomer
	}
	if req.BillingMethod == subscriptiondomain.BillingMethodCreditCard && req.CreditCard == nil {
		return domain.ErrInvalidCustomer
	}
	return nil
}
