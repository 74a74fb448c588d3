package ratelimit

import "go.uber.org/fx"

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewWindowLimiter),
	fx.Provide(NewTokenBucket),
	fx.Provide(NewEndpointLimiter),
)
