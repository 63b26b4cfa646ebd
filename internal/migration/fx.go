package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	batchdomain "github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/internal/config"
	driverdomain "github.com/fleetdesk/fleetdesk/internal/driver/domain"
	masterdomain "github.com/fleetdesk/fleetdesk/internal/masterdata/domain"
	"github.com/fleetdesk/fleetdesk/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// The SQL migrations are written for postgres; other dialects
			// (sqlite for local runs) get the schema from the models.
			if err := conn.AutoMigrate(
				&batchdomain.Batch{},
				&driverdomain.Driver{},
				&driverdomain.DriverAddress{},
				&driverdomain.DriverDocument{},
				&driverdomain.DriverEmployment{},
				&driverdomain.DriverIncident{},
				&masterdomain.DocumentType{},
				&masterdomain.AddressType{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureMasterData(conn)
	}),
)
