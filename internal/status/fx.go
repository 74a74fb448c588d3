package status

import (
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("status.service",
	fx.Provide(func(svc reconciledomain.Service) Refresher { return svc }),
	fx.Provide(NewService),
)
