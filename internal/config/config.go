// Package config provides configuration loading for learnd.
//
// Configuration is read from a YAML file and overridden by LEARND_*
// environment variables. Defaults cover every field, so an empty file or no
// file at all yields a working local setup.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/learnd/internal/retrieval"
)

// Config holds the complete learnd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Storage    StorageConfig    `koanf:"storage"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Tracker    TrackerConfig    `koanf:"tracker"`
	Indexer    IndexerConfig    `koanf:"indexer"`
	Evaluation EvaluationConfig `koanf:"evaluation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig selects level and encoding of the process logger.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	ServiceName    string   `koanf:"service_name"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// StorageConfig selects the knowledge store backend.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `koanf:"driver"`
	// Path is the SQLite database file. A leading ~ expands to the home directory.
	Path string `koanf:"path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string   `koanf:"provider"`
	Model    string   `koanf:"model"`
	BaseURL  string   `koanf:"base_url"`
	APIKey   Secret   `koanf:"api_key"`
	CacheDir string   `koanf:"cache_dir"`
	Timeout  Duration `koanf:"timeout"`

	// MaxLength and BatchSize tune the in-process fastembed model. Zero keeps
	// the model defaults.
	MaxLength int `koanf:"max_length"`
	BatchSize int `koanf:"batch_size"`
}

// RetrievalConfig holds ranking weights and the query embedding timeout.
// Weights are flattened into the section: retrieval.error_type, etc.
type RetrievalConfig struct {
	QueryTimeout      Duration `koanf:"query_timeout"`
	retrieval.Weights `koanf:",squash"`
}

// TrackerConfig sizes the asynchronous outcome recorder.
type TrackerConfig struct {
	Workers    int      `koanf:"workers"`
	QueueSize  int      `koanf:"queue_size"`
	JobTimeout Duration `koanf:"job_timeout"`
}

// IndexerConfig controls embedding population.
type IndexerConfig struct {
	BatchSize int     `koanf:"batch_size"`
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// EvaluationConfig holds reporting defaults.
type EvaluationConfig struct {
	DefaultDays int `koanf:"default_days"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			ServiceName:    "learnd",
			Insecure:       true,
			SampleRate:     1.0,
			MetricsEnabled: true,
			ExportInterval: Duration(15 * time.Second),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "~/.config/learnd/learnd.db",
		},
		Embeddings: EmbeddingsConfig{
			Provider: "tei",
			Model:    "BAAI/bge-small-en-v1.5",
			BaseURL:  "http://localhost:8080",
			Timeout:  Duration(10 * time.Second),
		},
		Retrieval: RetrievalConfig{
			QueryTimeout: Duration(5 * time.Second),
			Weights:      retrieval.DefaultWeights(),
		},
		Tracker: TrackerConfig{
			Workers:    4,
			QueueSize:  1024,
			JobTimeout: Duration(10 * time.Second),
		},
		Indexer: IndexerConfig{
			BatchSize: 32,
			RateLimit: 2,
			Burst:     1,
		},
		Evaluation: EvaluationConfig{
			DefaultDays: 7,
		},
	}
}

// applyDefaults restores defaults for fields that were set to a zero value
// where zero is never meaningful.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = def.Telemetry.ExportInterval
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = def.Embeddings.Provider
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = def.Embeddings.Timeout
	}
	if cfg.Retrieval.QueryTimeout == 0 {
		cfg.Retrieval.QueryTimeout = def.Retrieval.QueryTimeout
	}
	if cfg.Tracker.Workers == 0 {
		cfg.Tracker.Workers = def.Tracker.Workers
	}
	if cfg.Tracker.QueueSize == 0 {
		cfg.Tracker.QueueSize = def.Tracker.QueueSize
	}
	if cfg.Tracker.JobTimeout == 0 {
		cfg.Tracker.JobTimeout = def.Tracker.JobTimeout
	}
	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer.BatchSize = def.Indexer.BatchSize
	}
	if cfg.Indexer.RateLimit == 0 {
		cfg.Indexer.RateLimit = def.Indexer.RateLimit
	}
	if cfg.Indexer.Burst == 0 {
		cfg.Indexer.Burst = def.Indexer.Burst
	}
	if cfg.Evaluation.DefaultDays == 0 {
		cfg.Evaluation.DefaultDays = def.Evaluation.DefaultDays
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil && c.Logging.Level != "trace" {
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format %q (must be json or console)", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %g", c.Telemetry.SampleRate)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage path required for sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q (must be sqlite or memory)", c.Storage.Driver)
	}

	switch c.Embeddings.Provider {
	case "tei", "ollama":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("embeddings base_url required for %s provider", c.Embeddings.Provider)
		}
	case "openai":
		if !c.Embeddings.APIKey.IsSet() {
			return errors.New("embeddings api_key required for openai provider")
		}
	case "fastembed", "none":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.MaxLength < 0 || c.Embeddings.BatchSize < 0 {
		return errors.New("embeddings max_length and batch_size must not be negative")
	}

	if err := validateWeights(c.Retrieval.Weights); err != nil {
		return err
	}

	if c.Tracker.Workers < 0 || c.Tracker.QueueSize < 0 {
		return errors.New("tracker workers and queue_size must not be negative")
	}
	if c.Indexer.BatchSize < 0 || c.Indexer.RateLimit < 0 || c.Indexer.Burst < 0 {
		return errors.New("indexer batch_size, rate_limit and burst must not be negative")
	}
	if c.Evaluation.DefaultDays < 0 {
		return fmt.Errorf("evaluation default_days must not be negative, got %d", c.Evaluation.DefaultDays)
	}
	return nil
}

func validateWeights(w retrieval.Weights) error {
	for name, v := range map[string]float64{
		"semantic_scale":       w.SemanticScale,
		"error_type":           w.ErrorType,
		"exercise_type":        w.ExerciseType,
		"weak_skill":           w.WeakSkill,
		"effectiveness_boost":  w.EffectivenessBoost,
		"fallback_skill_match": w.FallbackSkillMatch,
		"fallback_error_type":  w.FallbackErrorType,
		"fallback_weak_skill":  w.FallbackWeakSkill,
	} {
		if v < 0 {
			return fmt.Errorf("retrieval %s must not be negative, got %g", name, v)
		}
	}
	if w.MinUses < 0 {
		return fmt.Errorf("retrieval min_uses must not be negative, got %d", w.MinUses)
	}
	return nil
}
