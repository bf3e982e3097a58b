package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrrotor/internal/config"
	"github.com/ryandielhenn/zephyrrotor/internal/logger"
	"github.com/ryandielhenn/zephyrrotor/internal/telemetry"
	"github.com/ryandielhenn/zephyrrotor/pkg/node"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("ROTOR_CONFIG"), "path to rotor.yaml")
	flag.Parse()

	// 1. Load configuration
	config.LoadDotEnv()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.L().Fatal("load config", logger.Err(err))
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "rotor-server", Version: version})
	defer logger.Sync()
	log := logger.Named("boot")
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the member registry
	log.Info("opening registry", zap.String("kind", cfg.Registry.Kind))
	reg, err := node.OpenRegistry(ctx, cfg)
	if err != nil {
		log.Fatal("open registry", logger.Err(err))
	}
	defer reg.Close()

	// 3. Watch membership where the registry supports it
	if err := reg.Watch(ctx); err != nil {
		log.Fatal("watch members", logger.Err(err))
	}

	// 4. Plan once so configuration defects show up in the boot log
	n := node.NewNode(cfg, reg)
	if plan, off, err := n.CurrentPlan(ctx); err != nil {
		log.Warn("current generation does not plan", logger.Err(err))
	} else {
		log.Info("current generation", logger.Offset(off), logger.Size(plan.Size()))
	}

	// 5. Serve
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           n.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("control plane listening", logger.Addr(cfg.Server.Addr), zap.String("cluster", cfg.Cluster.Name))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", logger.Err(err))
	}
}
