package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

var errTestLockBusy = errors.New("test_lock_busy")

func TestClassifyJobReason(t *testing.T) {
	RegisterErrorClassifier(func(err error) string {
		if errors.Is(err, errTestLockBusy) {
			return JobReasonLockContention
		}
		return ""
	})

	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: fmt.Errorf("update: %w", &pgconn.PgError{Code: "40001"}), want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "registered", err: fmt.Errorf("acquire: %w", errTestLockBusy), want: JobReasonLockContention},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestJobMetricsRecordsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newJobMetrics(registry, Config{ServiceName: "paysync", Environment: "test"})

	m.IncJobRun("reprocess_ledger")
	m.IncJobRun("reprocess_ledger")
	m.IncJobTimeout("reprocess_ledger")
	m.IncJobError("reprocess_ledger", context.DeadlineExceeded)
	m.AddItems("reprocess_ledger", "applied", 3)
	m.SetLedgerBacklog(7)
	m.ObserveLockWait(LockResourceSubscription, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("reprocess_ledger")); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("reprocess_ledger", JobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 deadline error, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("reprocess_ledger", "applied")); got != 3 {
		t.Fatalf("expected 3 applied items, got %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerBacklog); got != 7 {
		t.Fatalf("expected backlog 7, got %v", got)
	}
	if got := testutil.CollectAndCount(m.lockWait); got != 1 {
		t.Fatalf("expected 1 lock wait series, got %d", got)
	}
}

func TestNilJobMetricsIsSafe(t *testing.T) {
	var m *JobMetrics
	m.IncJobRun("x")
	m.IncJobError("x", errors.New("boom"))
	m.AddItems("x", "applied", 1)
	m.ObserveLockWait(LockResourceOwner, time.Second)
}
