package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Montivagant/rms-nova-sub000/internal/app"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/config"
	"github.com/Montivagant/rms-nova-sub000/internal/middlewares"
)

const modes = "api | settlement-worker | migrate | token"

func main() {
	mode := flag.String("mode", "", modes)
	cfgPath := flag.String("config", "", "path to the YAML config (default: first of config.yaml, config.yml, deploy/config.example.yaml)")
	port := flag.Int("port", 0, "api: override http.port")
	tenant := flag.String("tenant", "", "token: tenant id")
	actor := flag.String("actor", "", "token: staff id placed in the token subject")
	ttl := flag.Duration("ttl", 12*time.Hour, "token: lifetime")
	flag.Parse()

	path := *cfgPath
	if path == "" {
		if p, err := config.FindConfig(); err == nil {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	lg := logger.NewWithOptions("bootstrap", logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "api":
		lg.Info("service_started", map[string]any{"mode": "api", "config": path})
		if err := app.RunAPI(ctx, cfg, lg.With("nova-api")); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "settlement-worker":
		lg.Info("service_started", map[string]any{"mode": "settlement-worker", "config": path})
		if err := app.RunSettlementWorker(ctx, cfg, lg.With("settlement-worker")); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "migrate":
		if err := app.RunMigrate(ctx, cfg, lg.With("migrate")); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "token":
		tid, err := uuid.Parse(*tenant)
		if err != nil || *actor == "" {
			fmt.Fprintln(os.Stderr, "--tenant (uuid) and --actor are required for token")
			os.Exit(2)
		}
		tok, err := middlewares.NewAuthenticator(cfg.Auth.JWTSecret).Issue(tid, *actor, nil, *ttl)
		if err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
		fmt.Println(tok)
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: "+modes)
		os.Exit(2)
	}
}
