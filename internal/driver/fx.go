package driver

import (
	"github.com/fleetdesk/fleetdesk/internal/driver/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("driver.repository",
	fx.Provide(repository.Provide),
)
