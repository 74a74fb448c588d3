package engine

import (
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func pendingSubscription() subscriptiondomain.Subscription {
	return subscriptiondomain.Subscription{
		ID:            "sub_1",
		OwnerID:       "owner_1",
		Status:        subscriptiondomain.SubscriptionStatusPending,
		BillingMethod: subscriptiondomain.BillingMethodPix,
		Value:         4990,
		CreatedAt:     testNow.Add(-time.Hour),
		UpdatedAt:     testNow.Add(-time.Hour),
	}
}

func paymentEvent(eventType, paymentID string, due time.Time) paymentdomain.PaymentEvent {
	return paymentdomain.PaymentEvent{
		Provider:        "asaas",
		ProviderEventID: eventType + ":" + paymentID,
		Type:            eventType,
		SubscriptionID:  "sub_1",
		PaymentID:       paymentID,
		Value:           4990,
		DueDate:         due,
	}
}

func applyAll(t *testing.T, sub subscriptiondomain.Subscription, payments []subscriptiondomain.PaymentRecord, events ...paymentdomain.PaymentEvent) (subscriptiondomain.Subscription, []subscriptiondomain.PaymentRecord) {
	t.Helper()
	for _, ev := range events {
		res, err := ApplyEvent(ev, sub, payments, testNow)
		require.NoError(t, err)
		sub = res.Subscription
		if res.PaymentRecord != nil {
			payments = upsert(payments, *res.PaymentRecord)
		}
	}
	return sub, payments
}

func upsert(payments []subscriptiondomain.PaymentRecord, record subscriptiondomain.PaymentRecord) []subscriptiondomain.PaymentRecord {
	for i := range payments {
		if payments[i].ID == record.ID {
			payments[i] = record
			return payments
		}
	}
	return append(payments, record)
}

func TestConfirmedActivatesPendingSubscription(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", due), pendingSubscription(), nil, testNow)
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res.Subscription.Status)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPending, res.PreviousStatus)
	assert.True(t, res.SubscriptionChanged)
	assert.True(t, res.StatusChanged())
	require.NotNil(t, res.Subscription.LastConfirmedPaymentAt)
	assert.Equal(t, testNow, *res.Subscription.LastConfirmedPaymentAt)

	require.NotNil(t, res.PaymentRecord)
	assert.Equal(t, subscriptiondomain.PaymentStatusConfirmed, res.PaymentRecord.Status)
	assert.Equal(t, int64(4990), res.PaymentRecord.Value)
	require.NotNil(t, res.PaymentRecord.ConfirmedDate)

	require.Len(t, res.Effects, 1)
	assert.Equal(t, EffectActivate, res.Effects[0].Type)
	assert.Equal(t, "owner_1", res.Effects[0].OwnerID)
	assert.Equal(t, "pay_1", res.Effects[0].PaymentID)
}

func TestConfirmedTwiceIsNoop(t *testing.T) {
	ev := paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow)
	sub, payments := applyAll(t, pendingSubscription(), nil, ev)

	res, err := ApplyEvent(ev, sub, payments, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Noop())
	assert.Equal(t, sub, res.Subscription)
}

func TestOverdueAfterConfirmedKeepsActive(t *testing.T) {
	due := testNow.Add(-48 * time.Hour)
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", due),
	)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)

	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentOverdue, "pay_1", due), sub, payments, testNow)
	require.NoError(t, err)
	assert.True(t, res.Noop())
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res.Subscription.Status)
}

func TestOverdueForConfirmedCycleUnderOtherIDKeepsActive(t *testing.T) {
	due := testNow.Add(-48 * time.Hour)
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", due),
	)

	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentOverdue, "pay_dup", due), sub, payments, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res.Subscription.Status)
	assert.Empty(t, res.Effects)
}

func TestOverdueMovesActiveToPastDue(t *testing.T) {
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow.AddDate(0, -1, 0)),
	)

	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentOverdue, "pay_2", testNow.Add(-24*time.Hour)), sub, payments, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, res.Subscription.Status)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, EffectSuspend, res.Effects[0].Type)
	assert.Equal(t, subscriptiondomain.PaymentStatusOverdue, res.PaymentRecord.Status)
}

func TestOverdueWithFutureDueDateDoesNotSuspend(t *testing.T) {
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow.AddDate(0, -1, 0)),
	)

	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentOverdue, "pay_2", testNow.Add(24*time.Hour)), sub, payments, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res.Subscription.Status)
	assert.Empty(t, res.Effects)
}

func TestPastDueRecoversOnLaterConfirmation(t *testing.T) {
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow.AddDate(0, -2, 0)),
		paymentEvent(paymentdomain.EventTypePaymentOverdue, "pay_2", testNow.AddDate(0, -1, 0)),
	)
	require.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, sub.Status)

	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_2", testNow.AddDate(0, -1, 0)), sub, payments, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res.Subscription.Status)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, EffectActivate, res.Effects[0].Type)
}

func TestPastDueStaysWhenOlderCycleConfirmed(t *testing.T) {
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow.AddDate(0, -3, 0)),
		paymentEvent(paymentdomain.EventTypePaymentOverdue, "pay_3", testNow.AddDate(0, -1, 0)),
	)
	require.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, sub.Status)

	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_2", testNow.AddDate(0, -2, 0)), sub, payments, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, res.Subscription.Status)
	assert.Equal(t, subscriptiondomain.PaymentStatusConfirmed, res.PaymentRecord.Status)
	assert.Empty(t, res.Effects)
}

func TestCanceledIsTerminal(t *testing.T) {
	sub := pendingSubscription()
	res, err := Cancel(sub, "user_request", testNow)
	require.NoError(t, err)
	canceled := res.Subscription
	require.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CancelReason)
	assert.Equal(t, "user_request", *canceled.CancelReason)
	require.NotNil(t, canceled.CanceledAt)

	for _, eventType := range []string{paymentdomain.EventTypePaymentConfirmed, paymentdomain.EventTypePaymentOverdue} {
		res, err := ApplyEvent(paymentEvent(eventType, "pay_9", testNow.Add(-time.Hour)), canceled, nil, testNow)
		assert.ErrorIs(t, err, ErrInvalidTransition, eventType)
		assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, res.Subscription.Status)
		assert.Nil(t, res.PaymentRecord)
	}

	for _, status := range []paymentdomain.QueryStatus{paymentdomain.QueryStatusConfirmed, paymentdomain.QueryStatusOverdue} {
		res, err := ApplyQueryResult(paymentdomain.PaymentQuery{PaymentID: "pay_9", Status: status, DueDate: testNow}, canceled, nil, testNow)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, res.Subscription.Status)
	}

	_, err = Cancel(canceled, "again", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	res, err = ApplyEvent(paymentdomain.PaymentEvent{Type: paymentdomain.EventTypeSubscriptionCanceled, SubscriptionID: "sub_1"}, canceled, nil, testNow)
	require.NoError(t, err)
	assert.True(t, res.Noop())
}

func TestProviderCancellationEvent(t *testing.T) {
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow),
	)
	res, err := ApplyEvent(paymentdomain.PaymentEvent{Type: paymentdomain.EventTypeSubscriptionCanceled, SubscriptionID: "sub_1"}, sub, payments, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, res.Subscription.Status)
	require.NotNil(t, res.Subscription.CancelReason)
	assert.Equal(t, ReasonProviderCanceled, *res.Subscription.CancelReason)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, EffectCancel, res.Effects[0].Type)
}

func TestRefundKeepsStatus(t *testing.T) {
	sub, payments := applyAll(t, pendingSubscription(), nil,
		paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow),
	)
	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentRefunded, "pay_1", testNow), sub, payments, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res.Subscription.Status)
	assert.Equal(t, subscriptiondomain.PaymentStatusRefunded, res.PaymentRecord.Status)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, EffectRefund, res.Effects[0].Type)

	payments = upsert(payments, *res.PaymentRecord)
	res, err = ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow), sub, payments, testNow)
	require.NoError(t, err)
	assert.True(t, res.Noop())
}

func TestPaymentCreatedRecordsPending(t *testing.T) {
	sub := pendingSubscription()
	res, err := ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentCreated, "pay_1", testNow), sub, nil, testNow)
	require.NoError(t, err)
	assert.False(t, res.SubscriptionChanged)
	require.NotNil(t, res.PaymentRecord)
	assert.Equal(t, subscriptiondomain.PaymentStatusPending, res.PaymentRecord.Status)
	assert.Equal(t, testNow, res.PaymentRecord.CreatedAt)

	payments := []subscriptiondomain.PaymentRecord{*res.PaymentRecord}
	res, err = ApplyEvent(paymentEvent(paymentdomain.EventTypePaymentUpdated, "pay_1", testNow), sub, payments, testNow)
	require.NoError(t, err)
	assert.True(t, res.Noop())
}

func TestUnknownAndMismatchedEvents(t *testing.T) {
	sub := pendingSubscription()

	res, err := ApplyEvent(paymentEvent("payment_chargeback_requested", "pay_1", testNow), sub, nil, testNow)
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.True(t, res.Noop())

	ev := paymentEvent(paymentdomain.EventTypePaymentConfirmed, "pay_1", testNow)
	ev.SubscriptionID = "sub_other"
	_, err = ApplyEvent(ev, sub, nil, testNow)
	assert.ErrorIs(t, err, ErrSubscriptionMismatch)

	ev = paymentEvent(paymentdomain.EventTypePaymentConfirmed, "", testNow)
	_, err = ApplyEvent(ev, sub, nil, testNow)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayment)
}

func TestQueryResultFeedsSameMachine(t *testing.T) {
	sub := pendingSubscription()
	query := paymentdomain.PaymentQuery{
		PaymentID:      "pay_1",
		SubscriptionID: "sub_1",
		Status:         paymentdomain.QueryStatusConfirmed,
		Value:          4990,
		DueDate:        testNow,
	}

	res, err := ApplyQueryResult(query, sub, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res.Subscription.Status)
	require.Len(t, res.Effects, 1)

	payments := []subscriptiondomain.PaymentRecord{*res.PaymentRecord}
	query.Status = paymentdomain.QueryStatusOverdue
	res2, err := ApplyQueryResult(query, res.Subscription, payments, testNow.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, res2.Noop())
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, res2.Subscription.Status)
}

func TestUnknownQueryStatusNeverMutates(t *testing.T) {
	sub := pendingSubscription()
	res, err := ApplyQueryResult(paymentdomain.PaymentQuery{PaymentID: "pay_1", Status: paymentdomain.QueryStatusUnknown}, sub, nil, testNow)
	assert.ErrorIs(t, err, ErrInconclusiveQuery)
	assert.True(t, res.Noop())
	assert.Equal(t, sub, res.Subscription)
}

func TestReactivationFlow(t *testing.T) {
	sub := pendingSubscription()

	begin, err := BeginReactivation(sub, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusReactivating, begin.Subscription.Status)

	_, err = BeginReactivation(begin.Subscription, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Cancel(begin.Subscription, "x", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	aborted, err := AbortReactivation(begin.Subscription, subscriptiondomain.SubscriptionStatusPending, testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPending, aborted.Subscription.Status)

	done, err := CompleteReactivation(begin.Subscription, "reactivated", testNow)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, done.Subscription.Status)
	require.Len(t, done.Effects, 1)
	assert.Equal(t, EffectCancel, done.Effects[0].Type)

	_, err = CompleteReactivation(sub, "reactivated", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	fresh, err := NewSubscription(NewSubscriptionParams{
		ID:            "sub_2",
		OwnerID:       sub.OwnerID,
		BillingMethod: subscriptiondomain.BillingMethodBoleto,
		Value:         4990,
	}, testNow)
	require.NoError(t, err)
	assert.NotEqual(t, sub.ID, fresh.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPending, fresh.Status)
}

func TestBeginReactivationLeavesCanceledUntouched(t *testing.T) {
	res, err := Cancel(pendingSubscription(), "", testNow)
	require.NoError(t, err)
	assert.Nil(t, res.Subscription.CancelReason)

	begin, err := BeginReactivation(res.Subscription, testNow)
	require.NoError(t, err)
	assert.True(t, begin.Noop())
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, begin.Subscription.Status)
}

func TestNewSubscriptionValidation(t *testing.T) {
	valid := NewSubscriptionParams{ID: "sub", OwnerID: "owner", BillingMethod: subscriptiondomain.BillingMethodPix, Value: 1}

	p := valid
	p.ID = " "
	_, err := NewSubscription(p, testNow)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscriptionID)

	p = valid
	p.OwnerID = ""
	_, err = NewSubscription(p, testNow)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidOwnerID)

	p = valid
	p.BillingMethod = "cash"
	_, err = NewSubscription(p, testNow)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidBillingMethod)

	p = valid
	p.Value = 0
	_, err = NewSubscription(p, testNow)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidValue)
}
