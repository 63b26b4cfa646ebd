package masterdata

import "go.uber.org/fx"

var Module = fx.Module("masterdata.repository",
	fx.Provide(NewRepository),
)
