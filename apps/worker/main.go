package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/fleetdesk/fleetdesk/internal/batch"
	"github.com/fleetdesk/fleetdesk/internal/clock"
	"github.com/fleetdesk/fleetdesk/internal/config"
	"github.com/fleetdesk/fleetdesk/internal/driver"
	"github.com/fleetdesk/fleetdesk/internal/masterdata"
	"github.com/fleetdesk/fleetdesk/internal/migration"
	"github.com/fleetdesk/fleetdesk/internal/upload"
	"github.com/fleetdesk/fleetdesk/internal/upload/runner"
	"github.com/fleetdesk/fleetdesk/pkg/db"
	"github.com/fleetdesk/fleetdesk/pkg/log"
)

// The worker drains the redis job queue; it never serves HTTP.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		masterdata.Module,
		driver.Module,
		batch.Module,
		upload.Module,
		runner.WorkerModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
