// The events consumer turns the platform's Kafka stream into daily rollup
// hashes in Redis. It is intentionally independent of the API process: the
// API fires events and forgets, this binary owns the aggregation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/fareshare/internal/config"
	"github.com/example/fareshare/internal/events"
	"github.com/example/fareshare/internal/logging"
	"github.com/example/fareshare/internal/observability"
)

// RollupStore is the slice of Redis the consumer needs, extracted so tests
// can count calls and inject failures.
type RollupStore interface {
	IncrField(ctx context.Context, key, field string, n int64) error
	IncrFloat(ctx context.Context, key, field string, v float64) error
}

type redisRollups struct {
	c *redis.Client
}

func (r redisRollups) IncrField(ctx context.Context, key, field string, n int64) error {
	return r.c.HIncrBy(ctx, key, field, n).Err()
}

func (r redisRollups) IncrFloat(ctx context.Context, key, field string, v float64) error {
	return r.c.HIncrByFloat(ctx, key, field, v).Err()
}

func rollupKey(at time.Time) string {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return "rollup:" + at.UTC().Format("2006-01-02")
}

// applyEvent folds one event into its day's rollup hash.
func applyEvent(ctx context.Context, rs RollupStore, e events.Event) error {
	key := rollupKey(e.At)
	switch e.Type {
	case events.TypeBookingCreated:
		if err := rs.IncrField(ctx, key, "bookings_created", 1); err != nil {
			return err
		}
		if e.Amount > 0 {
			return rs.IncrFloat(ctx, key, "booking_amount", e.Amount)
		}
		return nil
	case events.TypeBookingStatus:
		return rs.IncrField(ctx, key, "bookings_"+e.Status, 1)
	case events.TypeRideCreated:
		return rs.IncrField(ctx, key, "rides_created", 1)
	case events.TypeIncidentReported:
		return rs.IncrField(ctx, key, "incidents_reported", 1)
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}

// applyWithRetry retries transient Redis failures with a doubling delay.
func applyWithRetry(ctx context.Context, rs RollupStore, e events.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = applyEvent(ctx, rs, e); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()
	rollups := redisRollups{c: rc}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	logger.Info("consumer started", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Error("read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second

		var e events.Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			observability.EventsConsumeErr.Inc()
			logger.Error("bad event payload", "error", err, "offset", msg.Offset)
			continue
		}
		if err := applyWithRetry(ctx, rollups, e, 3, 100*time.Millisecond); err != nil {
			observability.EventsConsumeErr.Inc()
			logger.Error("rollup update failed", "error", err, "type", e.Type)
			continue
		}
		observability.EventsConsumed.WithLabelValues(e.Type).Inc()
	}
}
