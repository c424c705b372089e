// Command acd-server runs the REST surface (original_source/src/
// main.py's FastAPI app, here as a Gin server), reading REDIS_URL and
// ACD_LISTEN_ADDR from the environment via internal/config, using the same
// signal-driven graceful-shutdown shape as
// services/relay/main.go.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aidenlippert/acd-dispatch/internal/api"
	"github.com/aidenlippert/acd-dispatch/internal/config"
	"github.com/aidenlippert/acd-dispatch/internal/ops"
	"github.com/aidenlippert/acd-dispatch/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	st, err := store.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer st.Close()

	o := ops.New(st, ops.Config{
		LockAcquireTimeout: cfg.LockAcquireTimeout,
		LockHoldTTL:        cfg.LockHoldTTL,
	}, logger)

	handlers := api.NewHandlers(o)
	srv := api.NewServer(api.Config{
		Addr:          cfg.ListenAddr,
		EnableMetrics: true,
	}, handlers, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("acd server exited with error", zap.Error(err))
	}
}
