package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "asaas"),
		attribute.String("subscription_id", "sub_1"),
		attribute.String("event_type", "payment_confirmed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "subscription_id" {
			t.Fatalf("expected subscription_id to be dropped")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordWebhookEvent(ctx, "asaas", "payment_confirmed", "applied")
	m.RecordTransition(ctx, "pending", "active")
	m.RecordFallback(ctx, "inconclusive")
	m.RecordRateLimitDenied(ctx, "status", "fallback")
	m.RecordEffectPublished(ctx, "activate", "ok")
	m.ObserveProviderCall(ctx, "get_payment", "ok", time.Millisecond)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "paysync"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordTransition(context.Background(), "pending", "active")

	httpMetrics, err := NewHTTPMetrics(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}
	if httpMetrics == nil {
		t.Fatal("expected http metrics")
	}
}
