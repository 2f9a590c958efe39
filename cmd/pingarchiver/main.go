package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"

	"github.com/example/homeservice-dispatch/internal/config"
	"github.com/example/homeservice-dispatch/internal/ingest"
	"github.com/example/homeservice-dispatch/internal/logging"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pingarchiver_messages_consumed_total",
		Help: "Total ride ping messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pingarchiver_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	pingsArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pingarchiver_pings_archived_total",
		Help: "Total pings written to Postgres",
	})
	archiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pingarchiver_archive_errors_total",
		Help: "Total pings dropped after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, pingsArchived, archiveErrors)
}

func main() {
	var cfgPath, metricsAddr string
	pflag.StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")
	pflag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	pflag.Parse()

	cfg, err := config.Load(cfgPath)
	logger := logging.NewLogger(cfg.LogLevel, "pingarchiver")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.PGDSN == "" {
		logger.Error("PG_DSN is required")
		os.Exit(1)
	}
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	store, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	if cfg.RunMigrations {
		if err := store.Migrate(context.Background()); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	var last LastPositionWriter
	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		last = &redisAdapter{c: rc}
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if rc != nil {
				if err := rc.Ping(r.Context()).Err(); err != nil {
					http.Error(w, "redis not ready", 503)
					return
				}
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaPingTopic, GroupID: cfg.KafkaGroup + "-archiver", MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		if rc != nil {
			_ = rc.Close()
		}
	}()

	logger.Info("archiver listening", "topic", cfg.KafkaPingTopic, "brokers", brokers)
	consume(ctx, r, store, last, logger)
	logger.Info("shutting down archiver")
}

// MessageReader is the part of *kafka.Reader the loop uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// PingWriter is the durable archive.
type PingWriter interface {
	SavePing(ctx context.Context, p models.Ping) error
}

// LastPositionWriter keeps the newest position of each ride for quick lookup.
type LastPositionWriter interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func consume(ctx context.Context, r MessageReader, store PingWriter, last LastPositionWriter, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		p, err := ingest.DecodePing(m)
		if err != nil || p.RideID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err, "offset", m.Offset)
			continue
		}

		if err := archiveWithRetry(ctx, store, last, p, 3, 200*time.Millisecond); err != nil {
			archiveErrors.Inc()
			logger.Error("archive failed", "ride_id", p.RideID, "error", err)
			continue
		}
		pingsArchived.Inc()
	}
}

// archiveWithRetry writes the ping and then the last-position hash, retrying
// each with doubling delay.
func archiveWithRetry(ctx context.Context, store PingWriter, last LastPositionWriter, p models.Ping, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := store.SavePing(ctx, p); err != nil {
			if i == attempts-1 {
				return fmt.Errorf("save ping: %w", err)
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if last == nil {
			return nil
		}
		if err := last.HSet(ctx, "ride:last:"+p.RideID, map[string]interface{}{"lat": p.Lat, "lon": p.Lon, "heading": p.Heading, "at": p.At.Unix()}); err != nil {
			if i == attempts-1 {
				return fmt.Errorf("update last position: %w", err)
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
