package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ucosm/link-aggregator/api"
	"github.com/ucosm/link-aggregator/config"
	"github.com/ucosm/link-aggregator/cursor"
	"github.com/ucosm/link-aggregator/index"
	"github.com/ucosm/link-aggregator/log"
	"github.com/ucosm/link-aggregator/pipeline"
	"github.com/ucosm/link-aggregator/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New("link-aggregator")
	ctx = log.IntoContext(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.NewTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Server.Dev)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}

	cursorStore, err := cursor.NewSQLiteStore(cfg.Server.CursorDBPath)
	if err != nil {
		return fmt.Errorf("setting up cursor store: %w", err)
	}

	idx := index.New(tel.Meter())

	pl := pipeline.New(pipeline.Config{
		Endpoint:    cfg.Server.JetstreamEndpoint,
		Ident:       "link-aggregator",
		Collections: cfg.Server.Collections,
	}, cursorStore, idx, logger)

	go func() {
		logger.Info("starting jetstream pipeline", "endpoint", cfg.Server.JetstreamEndpoint)
		if err := pl.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("pipeline stopped", "error", err)
		}
	}()

	go summarizeForever(ctx, idx, pl)

	srv := api.New(idx, logger, tel)
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting link-aggregator server", "address", cfg.Server.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

func summarizeForever(ctx context.Context, idx *index.Index, pl *pipeline.Pipeline) {
	logger := log.FromContext(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info(idx.Summarize(pl.QueueDepth()).String())
		}
	}
}
