package audit

import (
	"github.com/AlexProc13/external-payment/internal/audit/repository"
	"github.com/AlexProc13/external-payment/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
