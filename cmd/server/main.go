package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/marketpit/marketpit/params"
	"github.com/marketpit/marketpit/pkg/api"
	"github.com/marketpit/marketpit/pkg/game"
	"github.com/marketpit/marketpit/pkg/util"
)

func main() {
	// Load config from .env file and environment variables.
	cfg := params.LoadFromEnv("")

	var logger *zap.Logger
	var err error
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if cfg.Admin.Token == "" {
		sugar.Warn("ADMIN_TOKEN not set - admin endpoints disabled")
	}

	// The session is purely in-memory: discarded and reinitialized on
	// every process restart.
	g := game.New(sugar, util.RealClock{})

	server := api.NewServer(g, cfg, sugar)
	g.SetNotifier(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.HTTP.ListenAddr)
	}()

	sugar.Infow("server_started",
		"addr", cfg.HTTP.ListenAddr,
		"static_dir", cfg.HTTP.StaticDir,
		"admin_enabled", cfg.Admin.Token != "")

	select {
	case <-ctx.Done():
		sugar.Infow("shutting_down")
	case err := <-errCh:
		sugar.Fatalw("server_failed", "err", err)
	}
}
