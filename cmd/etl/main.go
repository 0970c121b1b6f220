package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/qclcd-etl-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/qclcd-etl-service/internal/adapter/kafka"
	"github.com/couchcryptid/qclcd-etl-service/internal/app"
	"github.com/couchcryptid/qclcd-etl-service/internal/config"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
	"github.com/couchcryptid/qclcd-etl-service/internal/pipeline"
	"github.com/couchcryptid/qclcd-etl-service/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	if err := a.ETL.EnsureTables(ctx); err != nil {
		logger.Error("failed to create tables", "error", err)
		a.Close()
		os.Exit(1)
	}

	sched := scheduler.New(logger, metrics)
	for _, job := range a.Jobs() {
		if err := sched.Add(job); err != nil {
			logger.Error("invalid job schedule", "error", err)
			a.Close()
			os.Exit(1)
		}
	}
	sched.Start()

	// Run requests from Kafka are optional (KAFKA_ENABLED).
	var (
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
		ready  httpadapter.ReadinessChecker = a
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		runner := pipeline.NewRunner(reader, a.ETL, writer, logger, metrics, cfg.BatchSize)
		ready = allReady{a, runner}

		go func() {
			if err := runner.Run(ctx); err != nil {
				logger.Error("runner error", "error", err)
			}
		}()
		logger.Info("kafka run requests enabled", "topic", cfg.KafkaSourceTopic, "results", cfg.KafkaSinkTopic)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, sched, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := a.Close(); err != nil {
		logger.Error("close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// allReady is ready when every checker is.
type allReady []httpadapter.ReadinessChecker

func (r allReady) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
