package provider

import (
	"github.com/AlexProc13/external-payment/internal/provider/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("provider",
	fx.Provide(repository.Provide),
)
