// Package config holds the gateway's deployment configuration: the local
// service identity, the credential role, the blob offload backend and the
// observability settings.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds Redis connection settings for the local offload backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Config is the central configuration struct.
type Config struct {
	// ServiceName identifies this service in function names and in the
	// credential broker session.
	ServiceName string `yaml:"service_name"`

	// Env is the deployment environment, part of every resolved
	// function name.
	Env string `yaml:"env"`

	// RoleName is the execution role assumed in target organizations.
	RoleName string `yaml:"role_name"`

	// SessionDuration bounds assumed-role sessions.
	SessionDuration time.Duration `yaml:"session_duration"`

	// SelfFunctionName is the fully-qualified name of the currently
	// executing function, used by recall.
	SelfFunctionName string `yaml:"self_function_name"`

	// BlobBucket enables the S3 offload backend when set.
	BlobBucket string `yaml:"blob_bucket"`

	// OffloadBackend selects the blob store: "s3", "redis" or "" (none).
	OffloadBackend string `yaml:"offload_backend"`

	// DirectorySecret names the secret holding account ids by
	// organization code for cross-service resolution.
	DirectorySecret string `yaml:"directory_secret"`

	// EndpointOverride points the invocation transport at a local
	// emulator. Empty in real deployments.
	EndpointOverride string `yaml:"endpoint_override"`

	// PostgresDSN enables the invocation audit log when set.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MetricsAddr serves the Prometheus scrape endpoint when set,
	// e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`

	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Env:             "local",
		RoleName:        "RemoteInvoke",
		SessionDuration: 30 * time.Minute,
		DirectorySecret: "AccountsIdsByService",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Telemetry: TelemetryConfig{
			SampleRate: 1.0,
		},
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("QUASAR_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("QUASAR_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("QUASAR_ROLE_NAME"); v != "" {
		cfg.RoleName = v
	}
	if v := os.Getenv("QUASAR_FUNCTION_NAME"); v != "" {
		cfg.SelfFunctionName = v
	}
	if v := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); v != "" && cfg.SelfFunctionName == "" {
		cfg.SelfFunctionName = v
	}
	if v := os.Getenv("QUASAR_BLOB_BUCKET"); v != "" {
		cfg.BlobBucket = v
		if cfg.OffloadBackend == "" {
			cfg.OffloadBackend = "s3"
		}
	}
	if v := os.Getenv("QUASAR_OFFLOAD_BACKEND"); v != "" {
		cfg.OffloadBackend = v
	}
	if v := os.Getenv("QUASAR_DIRECTORY_SECRET"); v != "" {
		cfg.DirectorySecret = v
	}
	if v := os.Getenv("QUASAR_ENDPOINT"); v != "" {
		cfg.EndpointOverride = v
	}
	if v := os.Getenv("QUASAR_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("QUASAR_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("QUASAR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("QUASAR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("QUASAR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("QUASAR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Local reports whether this is a local deployment (no real platform
// services behind the gateway).
func (c *Config) Local() bool {
	return c.Env == "local"
}
