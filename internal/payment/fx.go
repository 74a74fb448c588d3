package payment

import (
	"github.com/smallbiznis/paysync/internal/config"
	"github.com/smallbiznis/paysync/internal/payment/adapters"
	"github.com/smallbiznis/paysync/internal/payment/adapters/asaas"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/payment/ledger"
	"github.com/smallbiznis/paysync/internal/payment/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(asaas.NewFactory()).
			Configure(paymentdomain.AdapterConfig{
				Provider: asaas.Provider,
				Config:   map[string]any{"webhook_token": cfg.Asaas.WebhookToken},
			})
	}),
	fx.Provide(asaas.NewGateway),
	ledger.Module,
)
