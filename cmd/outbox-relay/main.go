// outbox-relay publishes donation notifications to Kafka. It polls the
// notifications table of the server's SQLite database and marks each row
// once the broker has accepted it.
//
// Configuration comes from the same environment as the server:
//
//	DB_PATH               path to the server's database
//	KAFKA_BROKERS         comma-separated broker list, e.g. "kafka:9092"
//	KAFKA_TOPIC           destination topic (default "donation-notifications")
//	OUTBOX_POLL_INTERVAL  idle wait between polls (default 2s)
//	OUTBOX_BATCH_SIZE     rows per publish (default 100)
//	OUTBOX_METRICS_ADDR   Prometheus listener (default ":9091")
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/config"
	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/logging"
	"github.com/jredh-dev/goodwill/internal/outbox"
)

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.Server.Env).Named("outbox-relay")
	defer logger.Sync()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("required environment variable KAFKA_BROKERS is not set")
	}

	db, err := database.Open(cfg.DB.Path)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	publisher := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close publisher", zap.Error(err))
		}
	}()

	relay := outbox.NewRelay(db, publisher, cfg.Kafka.BatchSize, cfg.Kafka.PollInterval, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Kafka.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.Kafka.MetricsAddr, logger)
		defer stopMetrics()
	}

	logger.Info("starting",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	if err := relay.Run(ctx); err != nil {
		logger.Fatal("relay stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// serveMetrics exposes /metrics on addr and returns the func that stops it.
func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
