package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Strategy names accepted by the pipeline.
const (
	StrategyScalar  = "scalar"
	StrategyChunked = "chunked"
)

// Day precisions for delivery_time_days.
const (
	PrecisionFractional = "fractional"
	PrecisionWhole      = "whole"
)

// Pipeline holds the cleaning job settings.
type Pipeline struct {
	InputPath        string
	OutputPath       string
	Strategy         string
	ChunkSize        int
	TimestampLayouts []string
	Precision        string
	RequiredOnly     bool
	DedupeStore      string
	DedupeDir        string
	CompareTolerance float64
}

// Cache configures the run summary cache and backend selection.
type Cache struct {
	Enabled    bool
	Driver     string
	DefaultTTL time.Duration
	KeyPrefix  string
	Redis      Redis
}

// Redis contains redis-specific connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Messaging configures where run events are published.
type Messaging struct {
	Driver  string
	Enabled bool
	Kafka   Kafka
}

// Kafka holds Kafka connection details.
type Kafka struct {
	Brokers      []string
	ClientID     string
	Topic        string
	WriteTimeout time.Duration
}

// Observability contains logging, tracing, and metrics configuration.
type Observability struct {
	ServiceName     string
	Environment     string
	LogLevel        string
	LogEncoding     string
	LogFile         string
	LogMaxSizeMB    int
	LogMaxBackups   int
	LogMaxAgeDays   int
	EnableTracing   bool
	TraceExporter   string
	TraceEndpoint   string
	TraceInsecure   bool
	EnableMetrics   bool
	MetricsTextfile string
	PushgatewayURL  string
}

// Config wraps all application configuration knobs.
type Config struct {
	Pipeline      Pipeline
	Cache         Cache
	Messaging     Messaging
	Observability Observability
}

// Module wires the configuration loader into the Fx graph.
var Module = fx.Provide(New)

var loadEnvOnce sync.Once

// DefaultTimestampLayouts covers the Olist export format plus ISO 8601.
var DefaultTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// New builds a Config from environment variables or defaults.
func New() (Config, error) {
	loadEnvOnce.Do(func() {
		_ = godotenv.Load()
	})

	cfg := Config{
		Pipeline: Pipeline{
			InputPath:        getEnv("PIPELINE_INPUT_PATH", "data/raw/olist_orders_dataset.csv"),
			OutputPath:       getEnv("PIPELINE_OUTPUT_PATH", "data/processed/processed_orders.csv"),
			Strategy:         getEnv("PIPELINE_STRATEGY", StrategyScalar),
			ChunkSize:        getEnvAsInt("PIPELINE_CHUNK_SIZE", 10000),
			TimestampLayouts: getEnvAsStringSlice("PIPELINE_TIMESTAMP_LAYOUTS", DefaultTimestampLayouts),
			Precision:        getEnv("PIPELINE_PRECISION", PrecisionFractional),
			RequiredOnly:     getEnvAsBool("PIPELINE_REQUIRED_ONLY", false),
			DedupeStore:      getEnv("PIPELINE_DEDUPE_STORE", "memory"),
			DedupeDir:        getEnv("PIPELINE_DEDUPE_DIR", ""),
			CompareTolerance: getEnvAsFloat("PIPELINE_COMPARE_TOLERANCE", 1e-9),
		},
		Cache: Cache{
			Enabled:    getEnvAsBool("CACHE_ENABLED", false),
			Driver:     getEnv("CACHE_DRIVER", "redis"),
			DefaultTTL: getEnvAsDuration("CACHE_DEFAULT_TTL", 7*24*time.Hour),
			KeyPrefix:  getEnv("CACHE_KEY_PREFIX", "orderpipe"),
			Redis: Redis{
				Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
		},
		Messaging: Messaging{
			Driver:  getEnv("MESSAGING_DRIVER", "kafka"),
			Enabled: getEnvAsBool("MESSAGING_ENABLED", false),
			Kafka: Kafka{
				Brokers:      getEnvAsStringSlice("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
				ClientID:     getEnv("KAFKA_CLIENT_ID", "orderpipe"),
				Topic:        getEnv("KAFKA_TOPIC", "orders.pipeline.runs"),
				WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
			},
		},
		Observability: Observability{
			ServiceName:     getEnv("OBS_SERVICE_NAME", "orderpipe"),
			Environment:     getEnv("OBS_ENVIRONMENT", "local"),
			LogLevel:        getEnv("OBS_LOG_LEVEL", "info"),
			LogEncoding:     getEnv("OBS_LOG_ENCODING", "console"),
			LogFile:         getEnv("OBS_LOG_FILE", "pipeline.log"),
			LogMaxSizeMB:    getEnvAsInt("OBS_LOG_MAX_SIZE_MB", 1),
			LogMaxBackups:   getEnvAsInt("OBS_LOG_MAX_BACKUPS", 3),
			LogMaxAgeDays:   getEnvAsInt("OBS_LOG_MAX_AGE_DAYS", 0),
			EnableTracing:   getEnvAsBool("OBS_ENABLE_TRACING", false),
			TraceExporter:   getEnv("OBS_TRACE_EXPORTER", "stdout"),
			TraceEndpoint:   getEnv("OBS_OTLP_ENDPOINT", "localhost:4317"),
			TraceInsecure:   getEnvAsBool("OBS_OTLP_INSECURE", true),
			EnableMetrics:   getEnvAsBool("OBS_ENABLE_METRICS", true),
			MetricsTextfile: getEnv("OBS_METRICS_TEXTFILE", ""),
			PushgatewayURL:  getEnv("OBS_PUSHGATEWAY_URL", ""),
		},
	}

	if err := cfg.Pipeline.Validate(); err != nil {
		return Config{}, err
	}

	if !cfg.Cache.Enabled {
		cfg.Cache.Driver = "noop"
	}

	switch cfg.Cache.Driver {
	case "redis", "memory", "noop":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}

	if cfg.Cache.Driver == "redis" && cfg.Cache.Redis.Addr == "" {
		return Config{}, fmt.Errorf("missing REDIS_ADDR for redis cache")
	}

	if cfg.Cache.DefaultTTL < 0 {
		cfg.Cache.DefaultTTL = 7 * 24 * time.Hour
	}

	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	cfg.Observability.LogEncoding = strings.ToLower(strings.TrimSpace(cfg.Observability.LogEncoding))
	if cfg.Observability.LogEncoding == "" {
		cfg.Observability.LogEncoding = "console"
	}
	cfg.Observability.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.Observability.TraceExporter))
	if cfg.Observability.TraceExporter == "" {
		cfg.Observability.TraceExporter = "stdout"
	}
	if cfg.Observability.LogMaxSizeMB <= 0 {
		cfg.Observability.LogMaxSizeMB = 1
	}
	if cfg.Observability.LogMaxBackups < 0 {
		cfg.Observability.LogMaxBackups = 0
	}

	if !cfg.Messaging.Enabled {
		cfg.Messaging.Driver = "noop"
	}

	switch cfg.Messaging.Driver {
	case "kafka", "noop":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}

	if cfg.Messaging.Driver == "kafka" {
		if len(cfg.Messaging.Kafka.Brokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS must be provided")
		}
		if cfg.Messaging.Kafka.Topic == "" {
			return Config{}, fmt.Errorf("KAFKA_TOPIC must be provided")
		}
	}

	return cfg, nil
}

// Validate normalises pipeline settings and rejects unusable values. It is
// also applied after CLI flags override the environment.
func (p *Pipeline) Validate() error {
	p.Strategy = strings.ToLower(strings.TrimSpace(p.Strategy))
	switch p.Strategy {
	case StrategyScalar, StrategyChunked:
	default:
		return fmt.Errorf("unsupported pipeline strategy: %q", p.Strategy)
	}

	p.Precision = strings.ToLower(strings.TrimSpace(p.Precision))
	switch p.Precision {
	case "":
		p.Precision = PrecisionFractional
	case PrecisionFractional, PrecisionWhole:
	default:
		return fmt.Errorf("unsupported day precision: %q", p.Precision)
	}

	p.DedupeStore = strings.ToLower(strings.TrimSpace(p.DedupeStore))
	switch p.DedupeStore {
	case "":
		p.DedupeStore = "memory"
	case "memory", "pebble":
	default:
		return fmt.Errorf("unsupported dedupe store: %q", p.DedupeStore)
	}

	if p.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", p.ChunkSize)
	}
	if len(p.TimestampLayouts) == 0 {
		p.TimestampLayouts = DefaultTimestampLayouts
	}
	if p.CompareTolerance < 0 {
		p.CompareTolerance = 0
	}
	return nil
}
