// Package context carries request correlation identifiers across layers.
package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey      ctxKey = "request_id"
	subscriptionIDKey ctxKey = "subscription_id"
	providerEventKey  ctxKey = "provider_event_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, requestIDKey)
}

func WithSubscriptionID(ctx context.Context, subscriptionID string) context.Context {
	return withValue(ctx, subscriptionIDKey, subscriptionID)
}

func SubscriptionIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, subscriptionIDKey)
}

func WithProviderEventID(ctx context.Context, providerEventID string) context.Context {
	return withValue(ctx, providerEventKey, providerEventID)
}

func ProviderEventIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, providerEventKey)
}

func withValue(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
