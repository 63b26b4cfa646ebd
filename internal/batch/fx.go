package batch

import (
	"github.com/fleetdesk/fleetdesk/internal/batch/repository"
	"github.com/fleetdesk/fleetdesk/internal/batch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("batch.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
