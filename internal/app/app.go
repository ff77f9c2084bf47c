// Package app is the composition root shared by every --mode of the nova
// binary. It opens connections, picks implementations from config and hands
// them to the microservices.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/config"
	"github.com/Montivagant/rms-nova-sub000/internal/connections/database"
	"github.com/Montivagant/rms-nova-sub000/internal/connections/rabbitmq"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/gateway"
	loyalty "github.com/Montivagant/rms-nova-sub000/internal/microservices/loyalty/service"
	pos "github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/service"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/settlement"
	settlesvc "github.com/Montivagant/rms-nova-sub000/internal/microservices/settlement/service"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

// Deps are the wired components of one process.
type Deps struct {
	Config  *config.Config
	Store   repository.Store
	DB      *sql.DB
	Broker  *rabbitmq.Client
	Gateway gateway.Gateway
	Loyalty *loyalty.Service
	POS     *pos.Service

	closers []func() error
	once    sync.Once
}

// Build wires the engine for cfg. withBroker forces a broker connection
// even when deferred settlement is disabled (the worker mode needs one).
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, withBroker bool) (_ *Deps, err error) {
	d := &Deps{Config: cfg}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	// 1. Storage
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := database.ConnectDB(ctx, cfg.Database, log.With("database"))
		if err != nil {
			return nil, err
		}
		d.DB = db
		d.Store = repository.NewPostgresStore(db)
		d.closers = append(d.closers, db.Close)
	default:
		mem := repository.NewMemoryStore()
		n, err := SeedMemory(mem, cfg.Seed)
		if err != nil {
			return nil, err
		}
		log.Info("memory_store_seeded", map[string]any{"tenants": len(cfg.Seed.Tenants), "prices": n})
		d.Store = mem
	}

	// 2. Broker
	brokerNeeded := withBroker || (cfg.Deferred.Enabled && cfg.Database.Driver == config.DriverPostgres)
	if brokerNeeded {
		client, err := rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		d.Broker = client
		d.closers = append(d.closers, func() error { client.Close(); return nil })
		log.Info("rabbitmq_connected", map[string]any{"host": cfg.RabbitMQ.Host, "port": cfg.RabbitMQ.Port})
	}

	// 3. Gateway and ledgers
	gw, err := gateway.New(cfg.Gateway, log)
	if err != nil {
		return nil, err
	}
	d.Gateway = gw
	if cfg.Database.Driver == config.DriverMemory && cfg.Gateway.Provider != config.ProviderMock {
		log.Warn("memory_store_serializes_gateway_calls", map[string]any{
			"gateway": cfg.Gateway.Provider,
			"timeout": cfg.Gateway.Timeout.String(),
		})
	}
	d.Loyalty = loyalty.New(d.Store, loyalty.Config{
		EarnRate:        cfg.Loyalty.Rate(),
		MinRedeemPoints: cfg.Loyalty.MinRedeemPoints,
	}, log.With("loyalty"))

	// 4. Deferred settlement
	var enqueuer pos.SettlementEnqueuer
	sink := &statusSink{}
	if cfg.Deferred.Enabled {
		if d.Broker != nil {
			enq, err := settlement.NewBrokerEnqueuer(d.Broker, cfg.Deferred)
			if err != nil {
				return nil, err
			}
			enqueuer = enq
		} else {
			local := settlesvc.NewLocalEnqueuer(sink, log.With("settlement"))
			d.closers = append(d.closers, func() error { local.Close(); return nil })
			enqueuer = local
		}
	}

	d.POS = pos.New(d.Store, gw, d.Loyalty, enqueuer, pos.Config{
		DeferPending: cfg.Deferred.Enabled,
		DeferDelay:   cfg.Deferred.Delay,
		DeferTarget:  domain.PaymentStatus(cfg.Deferred.TargetStatus),
	}, log.With("pos"))
	sink.svc = d.POS

	log.Info("engine_wired", map[string]any{
		"driver":    cfg.Database.Driver,
		"gateway":   cfg.Gateway.Provider,
		"processor": gw.Processor(),
		"deferred":  cfg.Deferred.Enabled,
		"broker":    d.Broker != nil,
	})
	return d, nil
}

// Close releases everything in reverse order of acquisition.
func (d *Deps) Close() error {
	var errs *multierror.Error
	d.once.Do(func() {
		for i := len(d.closers) - 1; i >= 0; i-- {
			if err := d.closers[i](); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	})
	return errs.ErrorOrNil()
}

// statusSink breaks the construction cycle between the in-process
// enqueuer and the POS service it settles through.
type statusSink struct {
	svc *pos.Service
}

func (s *statusSink) UpdatePaymentStatus(ctx context.Context, u pos.StatusUpdate) (pos.StatusOutcome, error) {
	if s.svc == nil {
		return pos.StatusOutcome{}, fmt.Errorf("settlement sink not wired")
	}
	return s.svc.UpdatePaymentStatus(ctx, u)
}
