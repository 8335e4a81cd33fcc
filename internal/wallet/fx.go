package wallet

import (
	"github.com/classsphere/classsphere/internal/wallet/repository"
	"github.com/classsphere/classsphere/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
