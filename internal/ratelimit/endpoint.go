package ratelimit

import (
	"context"
	"fmt"
	"strings"
)

const (
	EndpointStatus  = "status"
	EndpointWebhook = "webhook"

	keyEndpointBucket = "paysync:rl:%s:%s"
)

// Bucket takes one token from key.
type Bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

type bucketRate struct {
	rate  float64
	burst int
}

var defaultEndpointRates = map[string]bucketRate{
	EndpointStatus:  {rate: 2, burst: 10},
	EndpointWebhook: {rate: 50, burst: 200},
}

// EndpointLimiter throttles public endpoints per caller key. Without redis
// every request is allowed.
type EndpointLimiter struct {
	bucket Bucket
	rates  map[string]bucketRate
}

func NewEndpointLimiter(tb *TokenBucket) *EndpointLimiter {
	if tb == nil {
		return &EndpointLimiter{rates: defaultEndpointRates}
	}
	return NewBucketEndpointLimiter(tb)
}

func NewBucketEndpointLimiter(b Bucket) *EndpointLimiter {
	return &EndpointLimiter{bucket: b, rates: defaultEndpointRates}
}

func (l *EndpointLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow passes endpoints without a configured rate.
func (l *EndpointLimiter) Allow(ctx context.Context, endpoint, key string) (*RateLimitResult, error) {
	r, ok := l.rates[endpoint]
	if !l.Enabled() || !ok {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyEndpointBucket, endpoint, strings.TrimSpace(key)), r.rate, r.burst)
}
