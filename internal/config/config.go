package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/homeservice-dispatch/internal/models"
)

// Config captures all tunable parameters for the dispatch daemon and the
// ping archiver. Values come from defaults, then an optional YAML file, then
// environment variables, so the binary can run locally without setup.
type Config struct {
	StatusAddr      string        `yaml:"status_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	APIBaseURL string `yaml:"api_base_url"`
	PushURL    string `yaml:"push_url"`

	PGDSN              string   `yaml:"pg_dsn"`
	ChangeFeedChannels []string `yaml:"changefeed_channels"`

	KafkaBrokers   []string `yaml:"kafka_brokers"`
	KafkaCDCTopic  string   `yaml:"kafka_cdc_topic"`
	KafkaPingTopic string   `yaml:"kafka_ping_topic"`
	KafkaGroup     string   `yaml:"kafka_group"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	OSRMURL     string          `yaml:"osrm_url"`
	GeocoderURL string          `yaml:"geocoder_url"`
	Region      models.Location `yaml:"default_region"`

	PollInterval time.Duration `yaml:"poll_interval"`
	PollStats    bool          `yaml:"poll_stats"`
	DedupSize    int           `yaml:"dedup_size"`

	AlertWebhookURL string `yaml:"alert_webhook_url"`
	AlertWebhookKey string `yaml:"alert_webhook_key"`

	JWTSecret      string  `yaml:"jwt_secret"`
	StripeKey      string  `yaml:"stripe_key"`
	VisitingCharge float64 `yaml:"visiting_charge"`
	Currency       string  `yaml:"currency"`

	DefaultSpeedMps float64       `yaml:"default_speed_mps"`
	RideInterval    time.Duration `yaml:"ride_interval"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"run_migrations"`
}

func defaultConfig() Config {
	return Config{
		StatusAddr:         "127.0.0.1:8090",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		APIBaseURL:         "http://localhost:5000/api",
		ChangeFeedChannels: []string{"jobs_changes", "chats_changes"},
		KafkaCDCTopic:      "dispatch-cdc",
		KafkaPingTopic:     "ride-pings",
		KafkaGroup:         "homeservice-dispatch",
		OSRMURL:            "https://router.project-osrm.org",
		GeocoderURL:        "https://nominatim.openstreetmap.org",
		Region:             models.Location{Lat: 12.9716, Lon: 77.5946, Address: "Bengaluru"},
		PollInterval:       30 * time.Second,
		DedupSize:          4096,
		VisitingCharge:     199,
		Currency:           "inr",
		DefaultSpeedMps:    8,
		RideInterval:       5 * time.Second,
		LogLevel:           "info",
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	var errs []error

	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.StatusAddr, "STATUS_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.PushURL, "PUSH_URL")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	if v := os.Getenv("CHANGEFEED_CHANNELS"); v != "" {
		cfg.ChangeFeedChannels = splitAndTrim(v)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaCDCTopic, "KAFKA_CDC_TOPIC")
	setStringFromEnv(&cfg.KafkaPingTopic, "KAFKA_PING_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}

	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setStringFromEnv(&cfg.GeocoderURL, "GEOCODER_URL")
	setFloatFromEnv(&cfg.Region.Lat, "DEFAULT_REGION_LAT", &errs)
	setFloatFromEnv(&cfg.Region.Lon, "DEFAULT_REGION_LON", &errs)
	setStringFromEnv(&cfg.Region.Address, "DEFAULT_REGION_LABEL")

	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	if v := os.Getenv("POLL_STATS"); v != "" {
		cfg.PollStats = strings.EqualFold(v, "true")
	}
	setIntFromEnv(&cfg.DedupSize, "DEDUP_SIZE", &errs)

	setStringFromEnv(&cfg.AlertWebhookURL, "ALERT_WEBHOOK_URL")
	if v := os.Getenv("ALERT_WEBHOOK_KEY"); v != "" {
		cfg.AlertWebhookKey = v
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("STRIPE_API_KEY"); v != "" {
		cfg.StripeKey = v
	}
	setFloatFromEnv(&cfg.VisitingCharge, "VISITING_CHARGE", &errs)
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setDurationFromEnv(&cfg.RideInterval, "RIDE_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}
	if cfg.DedupSize <= 0 {
		errs = append(errs, fmt.Errorf("DEDUP_SIZE must be > 0"))
	}
	if cfg.VisitingCharge < 0 {
		errs = append(errs, fmt.Errorf("VISITING_CHARGE must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func overlayFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
