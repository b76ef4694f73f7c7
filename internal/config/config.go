// Package config loads the service configuration from a YAML file, the
// environment and command-line flags.
//
// Precedence (highest first): flags bound by the caller, SENTRY_* env vars,
// the config file, defaults. Nested keys map to env vars with "." replaced by
// "_", e.g. mitigation.threshold -> SENTRY_MITIGATION_THRESHOLD.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SENTRY"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Features   FeaturesConfig   `mapstructure:"features"`
	Mitigation MitigationConfig `mapstructure:"mitigation"`
	Model      ModelConfig      `mapstructure:"model"`
	Density    DensityConfig    `mapstructure:"density"`
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Output     OutputConfig     `mapstructure:"output"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	Stream     StreamConfig     `mapstructure:"stream"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	APIKeys   []string `mapstructure:"api_keys"`
	JWTSecret string   `mapstructure:"jwt_secret"`
	JWTIssuer string   `mapstructure:"jwt_issuer"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type FeaturesConfig struct {
	Window int `mapstructure:"window"`
}

type MitigationConfig struct {
	Threshold           float64        `mapstructure:"threshold"`
	SerializePerAddress bool           `mapstructure:"serialize_per_address"`
	Blocker             string         `mapstructure:"blocker"`
	RedisKey            string         `mapstructure:"redis_key"`
	IPTables            IPTablesConfig `mapstructure:"iptables"`
}

type IPTablesConfig struct {
	Chain          string        `mapstructure:"chain"`
	Target         string        `mapstructure:"target"`
	Binary         string        `mapstructure:"binary"`
	Binary6        string        `mapstructure:"binary6"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	MaxFailures    uint32        `mapstructure:"max_failures"`
}

type ModelConfig struct {
	ArtifactStore string  `mapstructure:"artifact_store"`
	Dir           string  `mapstructure:"dir"`
	BoltPath      string  `mapstructure:"bolt_path"`
	ArtifactName  string  `mapstructure:"artifact_name"`
	FallbackSeed  int64   `mapstructure:"fallback_seed"`
	HiddenUnits   int     `mapstructure:"hidden_units"`
	Epochs        int     `mapstructure:"epochs"`
	BatchSize     int     `mapstructure:"batch_size"`
	LearningRate  float64 `mapstructure:"learning_rate"`
	Patience      int     `mapstructure:"patience"`
	Seed          int64   `mapstructure:"seed"`
}

type DensityConfig struct {
	Contamination float64 `mapstructure:"contamination"`
	Trees         int     `mapstructure:"trees"`
	SampleSize    int     `mapstructure:"sample_size"`
	Seed          int64   `mapstructure:"seed"`
}

type StoreConfig struct {
	Driver     string         `mapstructure:"driver"`
	MaxAlerts  int            `mapstructure:"max_alerts"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	RedisKey   string         `mapstructure:"redis_key"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

type OutputConfig struct {
	QueueSize    int              `mapstructure:"queue_size"`
	OverflowPath string           `mapstructure:"overflow_path"`
	JSON         JSONOutputConfig `mapstructure:"json"`
	Kafka        KafkaOutput      `mapstructure:"kafka"`
}

type JSONOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	Stdout     bool   `mapstructure:"stdout"`
	Pretty     bool   `mapstructure:"pretty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// KafkaOutput keeps the producer settings as a raw map; the notifier decodes
// it itself.
type KafkaOutput struct {
	Enabled  bool                   `mapstructure:"enabled"`
	Settings map[string]interface{} `mapstructure:"settings"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type DatasetConfig struct {
	ExternalPath string `mapstructure:"external_path"`
}

type StreamConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	Workers        int           `mapstructure:"workers"`
	BufferSize     int           `mapstructure:"buffer_size"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
	OverflowPath   string        `mapstructure:"overflow_path"`
	QuarantinePath string        `mapstructure:"quarantine_path"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "sentry-iot")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("features.window", 10)

	v.SetDefault("mitigation.threshold", 0.8)
	v.SetDefault("mitigation.serialize_per_address", true)
	v.SetDefault("mitigation.blocker", "iptables")
	v.SetDefault("mitigation.redis_key", "sentry:blocked")
	v.SetDefault("mitigation.iptables.chain", "INPUT")
	v.SetDefault("mitigation.iptables.target", "DROP")
	v.SetDefault("mitigation.iptables.binary", "iptables")
	v.SetDefault("mitigation.iptables.binary6", "ip6tables")
	v.SetDefault("mitigation.iptables.command_timeout", 5*time.Second)
	v.SetDefault("mitigation.iptables.breaker_timeout", 30*time.Second)
	v.SetDefault("mitigation.iptables.max_failures", 5)

	v.SetDefault("model.artifact_store", "file")
	v.SetDefault("model.dir", "./models")
	v.SetDefault("model.bolt_path", "./models/artifacts.db")
	v.SetDefault("model.artifact_name", "sequence_model")
	v.SetDefault("model.fallback_seed", 42)
	v.SetDefault("model.hidden_units", 32)
	v.SetDefault("model.epochs", 10)
	v.SetDefault("model.batch_size", 32)
	v.SetDefault("model.learning_rate", 0.05)
	v.SetDefault("model.patience", 3)
	v.SetDefault("model.seed", 42)

	v.SetDefault("density.contamination", 0.1)
	v.SetDefault("density.trees", 100)
	v.SetDefault("density.sample_size", 256)
	v.SetDefault("density.seed", 42)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_alerts", 10000)
	v.SetDefault("store.sqlite_path", "./data/alerts.db")
	v.SetDefault("store.redis_key", "sentry:alerts")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "sentry")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.name", "sentry_iot")
	v.SetDefault("store.postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)

	v.SetDefault("output.queue_size", 1024)
	v.SetDefault("output.overflow_path", "")
	v.SetDefault("output.json.enabled", false)
	v.SetDefault("output.json.path", "./data/alerts.jsonl")
	v.SetDefault("output.json.max_size_mb", 100)
	v.SetDefault("output.json.max_backups", 5)
	v.SetDefault("output.json.max_age_days", 30)
	v.SetDefault("output.kafka.enabled", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("dataset.external_path", "data/ton_iot.csv")

	v.SetDefault("stream.batch_size", 100)
	v.SetDefault("stream.flush_interval", 2*time.Second)
	v.SetDefault("stream.workers", 4)
	v.SetDefault("stream.buffer_size", 64)
	v.SetDefault("stream.submit_timeout", 100*time.Millisecond)
	v.SetDefault("stream.overflow_path", "")
	v.SetDefault("stream.quarantine_path", "")
}

// Setup points v at configFile, or at config.yaml in the standard search
// paths when configFile is empty, and enables env overrides.
func Setup(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sentry-iot")
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file if one is found and decodes the result. A
// missing file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return Decode(v)
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Mitigation.Threshold < 0 || c.Mitigation.Threshold > 1 {
		return &ValidationError{Field: "mitigation.threshold", Value: c.Mitigation.Threshold, Reason: "must be within [0, 1]"}
	}
	if c.Features.Window < 1 {
		return &ValidationError{Field: "features.window", Value: c.Features.Window, Reason: "must be positive"}
	}
	if c.Density.Contamination <= 0 || c.Density.Contamination >= 0.5 {
		return &ValidationError{Field: "density.contamination", Value: c.Density.Contamination, Reason: "must be within (0, 0.5)"}
	}
	if err := oneOf("mitigation.blocker", c.Mitigation.Blocker, "iptables", "redis", "memory"); err != nil {
		return err
	}
	if err := oneOf("store.driver", c.Store.Driver, "memory", "sqlite", "postgres", "redis"); err != nil {
		return err
	}
	if err := oneOf("model.artifact_store", c.Model.ArtifactStore, "file", "bolt"); err != nil {
		return err
	}
	if err := oneOf("logging.format", c.Logging.Format, "console", "json"); err != nil {
		return err
	}
	if c.Stream.Workers < 1 || c.Stream.Workers > 1000 {
		return &ValidationError{Field: "stream.workers", Value: c.Stream.Workers, Reason: "must be between 1 and 1000"}
	}
	if c.Stream.BatchSize < 1 {
		return &ValidationError{Field: "stream.batch_size", Value: c.Stream.BatchSize, Reason: "must be positive"}
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 && c.Auth.JWTSecret == "" {
		return &ValidationError{Field: "auth", Value: "enabled", Reason: "needs api_keys or jwt_secret"}
	}
	if c.Output.Kafka.Enabled && len(c.Output.Kafka.Settings) == 0 {
		return &ValidationError{Field: "output.kafka.settings", Value: nil, Reason: "required when kafka output is enabled"}
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{Field: field, Value: value, Reason: "must be one of " + strings.Join(allowed, ", ")}
}

type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s = %v - %s", e.Field, e.Value, e.Reason)
}
