package pos

import (
	"context"
	"strconv"

	"github.com/Montivagant/rms-nova-sub000/internal/common/httpx"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/config"
	loyalty "github.com/Montivagant/rms-nova-sub000/internal/microservices/loyalty/service"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/handlers"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/service"
	"github.com/Montivagant/rms-nova-sub000/internal/middlewares"
)

// Start serves the POS HTTP API until ctx is done.
func Start(ctx context.Context, cfg *config.Config, svc *service.Service, ledger *loyalty.Service, log *logger.Logger) error {
	h := handlers.New(svc, ledger, log)
	router := handlers.Router(h, handlers.RouterConfig{
		Auth:          middlewares.NewAuthenticator(cfg.Auth.JWTSecret),
		WebhookSecret: cfg.Auth.WebhookSecret,
		Log:           log,
	})

	srv := httpx.New(":"+strconv.Itoa(cfg.HTTP.Port), router, httpx.Options{
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	log.Info("service_started", map[string]any{"port": cfg.HTTP.Port})
	return srv.Run(ctx)
}
