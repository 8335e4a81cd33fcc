package currency

import "go.uber.org/fx"

var Module = fx.Module("currency.repository",
	fx.Provide(NewRepository),
)
