package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/payments"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("payment-worker", "info").Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New("payment-worker", cfg.LogLevel)
	if cfg.KafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}
	logger.Info("payment-worker starting up",
		"env", cfg.Env,
		"topic", cfg.KafkaPaymentsTopic,
		"group_id", cfg.KafkaGroupID,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 5})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	svc := scheduling.NewService(
		scheduling.NewPgRepository(pgPool),
		cfg,
		logger,
		scheduling.WithMetrics(metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer)),
	)

	consumer := payments.NewConsumer(payments.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   cfg.KafkaPaymentsTopic,
	}, payments.NewIngestor(svc, logger), logger)
	// Optional scrape endpoint, e.g. METRICS_ADDR=:9102.
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() { _ = metricsSrv.Close() }()
	}

	consumer.Run(rootCtx)
	logger.Info("shutdown signal received, payment-worker stopped")
}
