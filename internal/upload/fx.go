package upload

import (
	"go.uber.org/fx"

	"github.com/fleetdesk/fleetdesk/internal/upload/executor"
	"github.com/fleetdesk/fleetdesk/internal/upload/notify"
	"github.com/fleetdesk/fleetdesk/internal/upload/report"
	"github.com/fleetdesk/fleetdesk/internal/upload/runner"
	"github.com/fleetdesk/fleetdesk/internal/upload/validate"
)

var Module = fx.Module("upload",
	notify.Module,
	fx.Provide(validate.NewEngine),
	fx.Provide(executor.New),
	fx.Provide(report.NewWriter),
	fx.Provide(New),
	fx.Provide(func(s *Service) runner.Pipeline { return s }),
)
