// Package engine holds the subscription state machine. Every function is pure:
// it takes the stored subscription and payment records plus one observation
// (a webhook event, a provider query result or an operator action) and returns
// the new state together with the effects to publish. Callers persist the
// result while holding the per-subscription lock.
package engine

import (
	"errors"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
)

var (
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrUnknownEventType     = errors.New("unknown_event_type")
	ErrSubscriptionMismatch = errors.New("subscription_mismatch")
	ErrInconclusiveQuery    = errors.New("inconclusive_query")
)

const ReasonProviderCanceled = "provider_canceled"

type EffectType string

const (
	EffectActivate EffectType = "activate"
	EffectSuspend  EffectType = "suspend"
	EffectCancel   EffectType = "cancel"
	EffectRefund   EffectType = "refund"
)

// Effect is a side effect the caller publishes after persisting a Result.
type Effect struct {
	Type           EffectType
	SubscriptionID string
	OwnerID        string
	PaymentID      string
	Reason         string
	OccurredAt     time.Time
}

type Result struct {
	Subscription        subscriptiondomain.Subscription
	PreviousStatus      subscriptiondomain.SubscriptionStatus
	SubscriptionChanged bool
	PaymentRecord       *subscriptiondomain.PaymentRecord
	Effects             []Effect
}

// Noop reports whether nothing needs to be written.
func (r Result) Noop() bool {
	return !r.SubscriptionChanged && r.PaymentRecord == nil && len(r.Effects) == 0
}

func (r Result) StatusChanged() bool {
	return r.Subscription.Status != r.PreviousStatus
}

type observationKind int

const (
	observePending observationKind = iota + 1
	observeConfirmed
	observeOverdue
	observeRefunded
	observeCanceled
)

// observation is the common shape of webhook events and query results, so
// both sources drive the same transitions.
type observation struct {
	kind          observationKind
	paymentID     string
	value         int64
	dueDate       time.Time
	confirmedDate *time.Time
	billingType   string
	reason        string
}

// ApplyEvent applies a normalised webhook event.
func ApplyEvent(event paymentdomain.PaymentEvent, current subscriptiondomain.Subscription, payments []subscriptiondomain.PaymentRecord, now time.Time) (Result, error) {
	if event.SubscriptionID != "" && event.SubscriptionID != current.ID {
		return unchanged(current), ErrSubscriptionMismatch
	}

	obs := observation{
		paymentID:     strings.TrimSpace(event.PaymentID),
		value:         event.Value,
		dueDate:       event.DueDate,
		confirmedDate: event.ConfirmedDate,
		billingType:   event.BillingType,
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentConfirmed:
		obs.kind = observeConfirmed
	case paymentdomain.EventTypePaymentOverdue:
		obs.kind = observeOverdue
	case paymentdomain.EventTypePaymentRefunded:
		obs.kind = observeRefunded
	case paymentdomain.EventTypePaymentCreated, paymentdomain.EventTypePaymentUpdated:
		obs.kind = observePending
	case paymentdomain.EventTypeSubscriptionCanceled:
		obs.kind = observeCanceled
		obs.reason = ReasonProviderCanceled
	default:
		return unchanged(current), ErrUnknownEventType
	}
	return apply(obs, current, payments, now)
}

// ApplyQueryResult applies a conclusive provider answer about one payment.
// An unknown provider status never changes state.
func ApplyQueryResult(query paymentdomain.PaymentQuery, current subscriptiondomain.Subscription, payments []subscriptiondomain.PaymentRecord, now time.Time) (Result, error) {
	if query.SubscriptionID != "" && query.SubscriptionID != current.ID {
		return unchanged(current), ErrSubscriptionMismatch
	}

	obs := observation{
		paymentID:     strings.TrimSpace(query.PaymentID),
		value:         query.Value,
		dueDate:       query.DueDate,
		confirmedDate: query.ConfirmedDate,
		billingType:   query.BillingType,
	}
	switch query.Status {
	case paymentdomain.QueryStatusConfirmed:
		obs.kind = observeConfirmed
	case paymentdomain.QueryStatusOverdue:
		obs.kind = observeOverdue
	case paymentdomain.QueryStatusRefunded:
		obs.kind = observeRefunded
	case paymentdomain.QueryStatusPending:
		obs.kind = observePending
	default:
		return unchanged(current), ErrInconclusiveQuery
	}
	return apply(obs, current, payments, now)
}

func apply(obs observation, current subscriptiondomain.Subscription, payments []subscriptiondomain.PaymentRecord, now time.Time) (Result, error) {
	now = now.UTC()
	if obs.kind == observeCanceled {
		if current.Status == subscriptiondomain.SubscriptionStatusCanceled {
			return unchanged(current), nil
		}
		return cancel(current, obs.reason, now)
	}
	if obs.paymentID == "" {
		return unchanged(current), paymentdomain.ErrInvalidPayment
	}

	existing := findPayment(payments, obs.paymentID)
	switch obs.kind {
	case observeConfirmed:
		return applyConfirmed(obs, current, existing, payments, now)
	case observeOverdue:
		return applyOverdue(obs, current, existing, payments, now)
	case observeRefunded:
		return applyRefunded(obs, current, existing, now)
	default:
		return applyPending(obs, current, existing, now)
	}
}

func applyConfirmed(obs observation, current subscriptiondomain.Subscription, existing *subscriptiondomain.PaymentRecord, payments []subscriptiondomain.PaymentRecord, now time.Time) (Result, error) {
	if current.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return unchanged(current), ErrInvalidTransition
	}
	// Confirmation and refund are final for a record.
	if existing != nil && (existing.Status == subscriptiondomain.PaymentStatusConfirmed || existing.Status == subscriptiondomain.PaymentStatusRefunded) {
		return unchanged(current), nil
	}

	record := mergeRecord(obs, existing, now)
	record.Status = subscriptiondomain.PaymentStatusConfirmed
	confirmedAt := now
	if obs.confirmedDate != nil {
		confirmedAt = obs.confirmedDate.UTC()
	}
	record.ConfirmedDate = &confirmedAt

	res := unchanged(current)
	res.PaymentRecord = &record
	sub := &res.Subscription

	stamp := now
	if sub.LastConfirmedPaymentAt == nil || sub.LastConfirmedPaymentAt.Before(stamp) {
		sub.LastConfirmedPaymentAt = &stamp
		res.SubscriptionChanged = true
	}

	switch sub.Status {
	case subscriptiondomain.SubscriptionStatusPending:
		sub.Status = subscriptiondomain.SubscriptionStatusActive
		res.Effects = append(res.Effects, effect(EffectActivate, *sub, record.ID, "", now))
	case subscriptiondomain.SubscriptionStatusPastDue:
		if !coversLatestOverdue(record, payments) {
			break
		}
		sub.Status = subscriptiondomain.SubscriptionStatusActive
		res.Effects = append(res.Effects, effect(EffectActivate, *sub, record.ID, "", now))
	}

	if res.SubscriptionChanged || res.StatusChanged() {
		res.SubscriptionChanged = true
		sub.UpdatedAt = now
	}
	return res, nil
}

func applyOverdue(obs observation, current subscriptiondomain.Subscription, existing *subscriptiondomain.PaymentRecord, payments []subscriptiondomain.PaymentRecord, now time.Time) (Result, error) {
	if current.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return unchanged(current), ErrInvalidTransition
	}
	if existing != nil && existing.Status != subscriptiondomain.PaymentStatusPending {
		return unchanged(current), nil
	}

	record := mergeRecord(obs, existing, now)
	record.Status = subscriptiondomain.PaymentStatusOverdue

	res := unchanged(current)
	res.PaymentRecord = &record

	if current.Status != subscriptiondomain.SubscriptionStatusActive {
		return res, nil
	}
	if !record.DueDate.Before(now) || cycleConfirmed(record, payments) {
		return res, nil
	}

	res.Subscription.Status = subscriptiondomain.SubscriptionStatusPastDue
	res.Subscription.UpdatedAt = now
	res.SubscriptionChanged = true
	res.Effects = append(res.Effects, effect(EffectSuspend, res.Subscription, record.ID, "", now))
	return res, nil
}

func applyRefunded(obs observation, current subscriptiondomain.Subscription, existing *subscriptiondomain.PaymentRecord, now time.Time) (Result, error) {
	if existing != nil && existing.Status == subscriptiondomain.PaymentStatusRefunded {
		return unchanged(current), nil
	}
	record := mergeRecord(obs, existing, now)
	record.Status = subscriptiondomain.PaymentStatusRefunded

	res := unchanged(current)
	res.PaymentRecord = &record
	res.Effects = append(res.Effects, effect(EffectRefund, current, record.ID, "", now))
	return res, nil
}

func applyPending(obs observation, current subscriptiondomain.Subscription, existing *subscriptiondomain.PaymentRecord, now time.Time) (Result, error) {
	if existing != nil {
		if existing.Status != subscriptiondomain.PaymentStatusPending {
			return unchanged(current), nil
		}
		if existing.Value == obs.value && sameInstant(existing.DueDate, obs.dueDate) {
			return unchanged(current), nil
		}
	}
	if current.Status == subscriptiondomain.SubscriptionStatusCanceled && existing == nil {
		return unchanged(current), nil
	}

	record := mergeRecord(obs, existing, now)
	record.Status = subscriptiondomain.PaymentStatusPending

	res := unchanged(current)
	res.PaymentRecord = &record
	return res, nil
}

// Cancel applies an explicit cancellation request.
func Cancel(current subscriptiondomain.Subscription, reason string, now time.Time) (Result, error) {
	if current.Status == subscriptiondomain.SubscriptionStatusReactivating {
		return unchanged(current), ErrInvalidTransition
	}
	return cancel(current, reason, now.UTC())
}

func cancel(current subscriptiondomain.Subscription, reason string, now time.Time) (Result, error) {
	res := unchanged(current)
	if err := transition(&res.Subscription, subscriptiondomain.SubscriptionStatusCanceled, now); err != nil {
		return unchanged(current), err
	}
	reason = strings.TrimSpace(reason)
	if reason != "" {
		res.Subscription.CancelReason = &reason
	}
	canceledAt := now
	res.Subscription.CanceledAt = &canceledAt
	res.SubscriptionChanged = true
	res.Effects = append(res.Effects, effect(EffectCancel, res.Subscription, "", reason, now))
	return res, nil
}

// BeginReactivation marks the current subscription as being replaced. A
// canceled subscription is returned untouched; it stays canceled while the
// replacement is created.
func BeginReactivation(current subscriptiondomain.Subscription, now time.Time) (Result, error) {
	if current.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return unchanged(current), nil
	}
	res := unchanged(current)
	if err := transition(&res.Subscription, subscriptiondomain.SubscriptionStatusReactivating, now.UTC()); err != nil {
		return unchanged(current), err
	}
	res.SubscriptionChanged = true
	return res, nil
}

// CompleteReactivation cancels the replaced subscription locally after it has
// been canceled at the provider.
func CompleteReactivation(current subscriptiondomain.Subscription, reason string, now time.Time) (Result, error) {
	if current.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return unchanged(current), nil
	}
	if current.Status != subscriptiondomain.SubscriptionStatusReactivating {
		return unchanged(current), ErrInvalidTransition
	}
	return cancel(current, reason, now.UTC())
}

// AbortReactivation restores the status held before BeginReactivation.
func AbortReactivation(current subscriptiondomain.Subscription, previous subscriptiondomain.SubscriptionStatus, now time.Time) (Result, error) {
	if current.Status != subscriptiondomain.SubscriptionStatusReactivating {
		return unchanged(current), nil
	}
	res := unchanged(current)
	if err := transition(&res.Subscription, previous, now.UTC()); err != nil {
		return unchanged(current), err
	}
	res.SubscriptionChanged = true
	return res, nil
}

type NewSubscriptionParams struct {
	ID                 string
	OwnerID            string
	BillingMethod      subscriptiondomain.BillingMethod
	Value              int64
	ProviderCustomerID string
}

// NewSubscription builds a fresh pending subscription.
func NewSubscription(p NewSubscriptionParams, now time.Time) (subscriptiondomain.Subscription, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscriptionID
	}
	owner := strings.TrimSpace(p.OwnerID)
	if owner == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOwnerID
	}
	if !p.BillingMethod.Valid() {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidBillingMethod
	}
	if p.Value <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidValue
	}
	now = now.UTC()
	return subscriptiondomain.Subscription{
		ID:                 id,
		OwnerID:            owner,
		Status:             subscriptiondomain.SubscriptionStatusPending,
		BillingMethod:      p.BillingMethod,
		Value:              p.Value,
		ProviderCustomerID: strings.TrimSpace(p.ProviderCustomerID),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func isTransitionAllowed(from, to subscriptiondomain.SubscriptionStatus) bool {
	switch from {
	case subscriptiondomain.SubscriptionStatusPending:
		return to == subscriptiondomain.SubscriptionStatusActive ||
			to == subscriptiondomain.SubscriptionStatusCanceled ||
			to == subscriptiondomain.SubscriptionStatusReactivating
	case subscriptiondomain.SubscriptionStatusActive:
		return to == subscriptiondomain.SubscriptionStatusPastDue ||
			to == subscriptiondomain.SubscriptionStatusCanceled ||
			to == subscriptiondomain.SubscriptionStatusReactivating
	case subscriptiondomain.SubscriptionStatusPastDue:
		return to == subscriptiondomain.SubscriptionStatusActive ||
			to == subscriptiondomain.SubscriptionStatusCanceled ||
			to == subscriptiondomain.SubscriptionStatusReactivating
	case subscriptiondomain.SubscriptionStatusReactivating:
		return to == subscriptiondomain.SubscriptionStatusCanceled ||
			to == subscriptiondomain.SubscriptionStatusPending ||
			to == subscriptiondomain.SubscriptionStatusActive ||
			to == subscriptiondomain.SubscriptionStatusPastDue
	default:
		return false
	}
}

func transition(sub *subscriptiondomain.Subscription, to subscriptiondomain.SubscriptionStatus, now time.Time) error {
	if !isTransitionAllowed(sub.Status, to) {
		return ErrInvalidTransition
	}
	sub.Status = to
	sub.UpdatedAt = now
	return nil
}

func unchanged(current subscriptiondomain.Subscription) Result {
	return Result{Subscription: current, PreviousStatus: current.Status}
}

func effect(kind EffectType, sub subscriptiondomain.Subscription, paymentID, reason string, now time.Time) Effect {
	return Effect{
		Type:           kind,
		SubscriptionID: sub.ID,
		OwnerID:        sub.OwnerID,
		PaymentID:      paymentID,
		Reason:         reason,
		OccurredAt:     now,
	}
}

func mergeRecord(obs observation, existing *subscriptiondomain.PaymentRecord, now time.Time) subscriptiondomain.PaymentRecord {
	var record subscriptiondomain.PaymentRecord
	if existing != nil {
		record = *existing
	} else {
		record = subscriptiondomain.PaymentRecord{ID: obs.paymentID, CreatedAt: now}
	}
	if obs.value > 0 {
		record.Value = obs.value
	}
	if !obs.dueDate.IsZero() {
		record.DueDate = obs.dueDate.UTC()
	}
	if obs.billingType != "" {
		record.BillingType = obs.billingType
	}
	record.UpdatedAt = now
	return record
}

func findPayment(payments []subscriptiondomain.PaymentRecord, id string) *subscriptiondomain.PaymentRecord {
	for i := range payments {
		if payments[i].ID == id {
			record := payments[i]
			return &record
		}
	}
	return nil
}

// cycleConfirmed reports whether any confirmed record bills the same cycle.
func cycleConfirmed(record subscriptiondomain.PaymentRecord, payments []subscriptiondomain.PaymentRecord) bool {
	for _, p := range payments {
		if p.Status == subscriptiondomain.PaymentStatusConfirmed && p.SameCycle(record) {
			return true
		}
	}
	return false
}

// coversLatestOverdue reports whether the confirmed record settles the most
// recent overdue cycle or a later one.
func coversLatestOverdue(record subscriptiondomain.PaymentRecord, payments []subscriptiondomain.PaymentRecord) bool {
	var latest *subscriptiondomain.PaymentRecord
	for i := range payments {
		p := payments[i]
		if p.Status != subscriptiondomain.PaymentStatusOverdue || p.ID == record.ID {
			continue
		}
		if latest == nil || p.DueDate.After(latest.DueDate) {
			latest = &p
		}
	}
	if latest == nil {
		return true
	}
	return !record.DueDate.Before(latest.DueDate)
}

func sameInstant(a, b time.Time) bool {
	if b.IsZero() {
		return true
	}
	return a.Equal(b)
}
