package app

import (
	"context"
	"errors"

	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/config"
	"github.com/Montivagant/rms-nova-sub000/internal/connections/database"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/pos"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/settlement"
)

// RunAPI serves the HTTP API.
func RunAPI(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	d, err := Build(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer d.Close()
	return pos.Start(ctx, cfg, d.POS, d.Loyalty, log.With("pos-api"))
}

// RunSettlementWorker consumes matured settlement jobs from the broker.
func RunSettlementWorker(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return errors.New("settlement-worker needs database.driver=postgres; the memory driver settles in-process")
	}
	d, err := Build(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer d.Close()
	return settlement.Run(ctx, d.Broker, d.POS, cfg.Deferred, log.With("settlement-worker"))
}

// RunMigrate applies the embedded schema migrations and returns.
func RunMigrate(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return errors.New("migrate needs database.driver=postgres")
	}
	db, err := database.ConnectDB(ctx, cfg.Database, log.With("database"))
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := database.Migrate(db)
	if err != nil {
		return err
	}
	log.Info("migrations_applied", map[string]any{"version": version})
	return nil
}
