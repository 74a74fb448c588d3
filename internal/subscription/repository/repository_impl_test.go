package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/paysync/internal/storetest"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
)

func newSubscription(id, owner string, status subscriptiondomain.SubscriptionStatus, now time.Time) *subscriptiondomain.Subscription {
	return &subscriptiondomain.Subscription{
		ID:            id,
		OwnerID:       owner,
		Status:        status,
		BillingMethod: subscriptiondomain.BillingMethodPix,
		Value:         9990,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestInsertRejectsSecondOpenSubscription(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t)
	repo := Provide()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Insert(ctx, db, newSubscription("sub_1", "owner_1", subscriptiondomain.SubscriptionStatusPending, now)); err != nil {
		t.Fatalf("insert first: %v", err)
	}

	err := repo.Insert(ctx, db, newSubscription("sub_2", "owner_1", subscriptiondomain.SubscriptionStatusPending, now))
	if !errors.Is(err, subscriptiondomain.ErrOpenSubscriptionExists) {
		t.Fatalf("expected ErrOpenSubscriptionExists, got %v", err)
	}

	if err := repo.Insert(ctx, db, newSubscription("sub_3", "owner_2", subscriptiondomain.SubscriptionStatusPending, now)); err != nil {
		t.Fatalf("other owner should insert: %v", err)
	}
}

func TestPartialIndexAllowsNewSubscriptionAfterCancel(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t)
	repo := Provide()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := newSubscription("sub_old", "owner_1", subscriptiondomain.SubscriptionStatusActive, now)
	if err := repo.Insert(ctx, db, old); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reason := "customer request"
	canceledAt := now.Add(time.Hour)
	old.Status = subscriptiondomain.SubscriptionStatusCanceled
	old.CancelReason = &reason
	old.CanceledAt = &canceledAt
	old.UpdatedAt = canceledAt
	if err := repo.UpdateState(ctx, db, old, subscriptiondomain.SubscriptionStatusActive); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := repo.Insert(ctx, db, newSubscription("sub_new", "owner_1", subscriptiondomain.SubscriptionStatusPending, canceledAt)); err != nil {
		t.Fatalf("insert after cancel: %v", err)
	}

	open, err := repo.FindOpenByOwner(ctx, db, "owner_1")
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if open == nil || open.ID != "sub_new" {
		t.Fatalf("expected sub_new to be open, got %+v", open)
	}

	stored, err := repo.FindByID(ctx, db, "sub_old")
	if err != nil {
		t.Fatalf("find old: %v", err)
	}
	if stored.Status != subscriptiondomain.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", stored.Status)
	}
	if stored.CancelReason == nil || *stored.CancelReason != reason {
		t.Fatalf("expected cancel reason to be stored")
	}
}

func TestUpdateStateDetectsConcurrentChange(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t)
	repo := Provide()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sub := newSubscription("sub_1", "owner_1", subscriptiondomain.SubscriptionStatusPending, now)
	if err := repo.Insert(ctx, db, sub); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sub.Status = subscriptiondomain.SubscriptionStatusActive
	err := repo.UpdateState(ctx, db, sub, subscriptiondomain.SubscriptionStatusPastDue)
	if !errors.Is(err, subscriptiondomain.ErrConcurrentStatusChange) {
		t.Fatalf("expected ErrConcurrentStatusChange, got %v", err)
	}
}

func TestFindByIDMissingReturnsNil(t *testing.T) {
	db := storetest.Open(t)
	sub, err := Provide().FindByID(context.Background(), db, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != nil {
		t.Fatalf("expected nil subscription")
	}
}

func TestUpsertPaymentAndListOrder(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t)
	repo := Provide()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Insert(ctx, db, newSubscription("sub_1", "owner_1", subscriptiondomain.SubscriptionStatusPending, now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	march := &subscriptiondomain.PaymentRecord{
		ID: "pay_march", SubscriptionID: "sub_1", Status: subscriptiondomain.PaymentStatusPending,
		Value: 9990, DueDate: now, BillingType: "PIX", CreatedAt: now, UpdatedAt: now,
	}
	april := &subscriptiondomain.PaymentRecord{
		ID: "pay_april", SubscriptionID: "sub_1", Status: subscriptiondomain.PaymentStatusPending,
		Value: 9990, DueDate: now.AddDate(0, 1, 0), BillingType: "PIX", CreatedAt: now, UpdatedAt: now,
	}
	for _, p := range []*subscriptiondomain.PaymentRecord{march, april} {
		if err := repo.UpsertPayment(ctx, db, p); err != nil {
			t.Fatalf("upsert %s: %v", p.ID, err)
		}
	}

	confirmedAt := now.Add(2 * time.Hour)
	march.Status = subscriptiondomain.PaymentStatusConfirmed
	march.ConfirmedDate = &confirmedAt
	march.UpdatedAt = confirmedAt
	if err := repo.UpsertPayment(ctx, db, march); err != nil {
		t.Fatalf("upsert confirm: %v", err)
	}

	payments, err := repo.ListPayments(ctx, db, "sub_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}
	if payments[0].ID != "pay_april" {
		t.Fatalf("expected newest cycle first, got %s", payments[0].ID)
	}

	stored, err := repo.FindPayment(ctx, db, "pay_march")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if stored.Status != subscriptiondomain.PaymentStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", stored.Status)
	}
	if stored.ConfirmedDate == nil {
		t.Fatalf("expected confirmed date")
	}
}

func TestUpsertPaymentRendersMySQLConflictClause(t *testing.T) {
	db, statements := storetest.OpenMySQLDryRun(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	payment := &subscriptiondomain.PaymentRecord{
		ID: "pay_march", SubscriptionID: "sub_1", Status: subscriptiondomain.PaymentStatusConfirmed,
		Value: 9990, DueDate: now, BillingType: "PIX", CreatedAt: now, UpdatedAt: now,
	}
	if err := Provide().UpsertPayment(context.Background(), db, payment); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	sql := statements.Last()
	if !strings.Contains(sql, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("expected mysql upsert, got %s", sql)
	}
	if strings.Contains(sql, "ON CONFLICT") || strings.Contains(sql, "excluded.") {
		t.Fatalf("unexpected postgres syntax in %s", sql)
	}
	for _, column := range []string{"`status`=VALUES(`status`)", "`confirmed_date`=VALUES(`confirmed_date`)"} {
		if !strings.Contains(sql, column) {
			t.Fatalf("expected %s in %s", column, sql)
		}
	}
	if strings.Contains(sql, "`created_at`=VALUES") {
		t.Fatalf("created_at must not be overwritten: %s", sql)
	}
}
