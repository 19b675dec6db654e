package finance

import (
	"github.com/AlexProc13/external-payment/internal/finance/adapters"
	"github.com/AlexProc13/external-payment/internal/finance/adapters/nowpayments"
	"github.com/AlexProc13/external-payment/internal/finance/ledger"
	"github.com/AlexProc13/external-payment/internal/finance/repository"
	"github.com/AlexProc13/external-payment/internal/finance/service"
	"github.com/AlexProc13/external-payment/internal/finance/validation"
	"go.uber.org/fx"
)

var Module = fx.Module("finance.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(nowpayments.Factory{})
	}),
	fx.Provide(ledger.NewManager),
	fx.Provide(validation.NewValidator),
	fx.Provide(service.NewService),
)
