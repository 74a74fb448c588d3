package subscription

import (
	"github.com/smallbiznis/paysync/internal/subscription/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.store",
	fx.Provide(repository.Provide),
)
