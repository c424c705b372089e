// Command acd-dispatcher runs the single-consumer matcher
// (original_source/src/dispatcher.py) as its own process, separate from
// acd-server, so it can be restarted or scaled independently of the REST
// surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aidenlippert/acd-dispatch/internal/config"
	"github.com/aidenlippert/acd-dispatch/internal/dispatch"
	"github.com/aidenlippert/acd-dispatch/internal/metrics"
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

	m := metrics.New()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("dispatcher metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()

	d := dispatch.New(st, o, dispatch.Config{RequeueStep: cfg.RequeueStep}, m, logger)

	logger.Info("dispatcher started")
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("dispatcher exited with error", zap.Error(err))
	}
}
