// Package config loads and validates the relay's process configuration.
// Values come from an optional TOML file, RTSPKVS_* environment variables,
// and command-line flags, in increasing precedence. Invalid or missing
// required values fail the process before any pipeline is attempted.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/topecongiro/rtsp-to-kvs/internal/logger"
	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
	"github.com/topecongiro/rtsp-to-kvs/internal/reconnect"
	"github.com/topecongiro/rtsp-to-kvs/internal/runtime"
)

// EnvPrefix for environment overrides, e.g. RTSPKVS_SOURCE_URL.
const EnvPrefix = "RTSPKVS"

// Config is the top-level structure of the relay configuration.
type Config struct {
	Source pipeline.StreamTarget `mapstructure:"source"`
	Sink   pipeline.SinkConfig   `mapstructure:"sink"`

	Supervisor SupervisorConfig     `mapstructure:"supervisor"`
	Worker     runtime.WorkerConfig `mapstructure:"worker"`
	HTTP       HTTPConfig           `mapstructure:"http"`
	History    HistoryConfig        `mapstructure:"history"`
	Log        logger.Config        `mapstructure:"log"`

	// Credentials selects how sink credentials are resolved per attempt.
	Credentials CredentialsConfig `mapstructure:"credentials"`

	// SourceCodec/SinkAccepts carry the codec negotiation hint. The
	// media runtime negotiates for real; these only decide whether a
	// transcode stage is built in.
	SourceCodec string   `mapstructure:"source_codec"`
	SinkAccepts []string `mapstructure:"sink_accepts"`
}

// SupervisorConfig bounds recovery behavior.
type SupervisorConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BudgetWindow        time.Duration `mapstructure:"budget_window"`
	Stabilization       time.Duration `mapstructure:"stabilization"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier   float64       `mapstructure:"backoff_multiplier"`
	BackoffJitter       float64       `mapstructure:"backoff_jitter"`
	GracefulStopTimeout time.Duration `mapstructure:"graceful_stop_timeout"`
	TransientWindow     time.Duration `mapstructure:"transient_window"`
	TransientThreshold  int           `mapstructure:"transient_threshold"`
}

// Policy converts the flat config into the controller's policy.
func (c SupervisorConfig) Policy() reconnect.Policy {
	return reconnect.Policy{
		MaxAttempts:   c.MaxAttempts,
		BudgetWindow:  c.BudgetWindow,
		Stabilization: c.Stabilization,
		Backoff: reconnect.Backoff{
			Initial:    c.InitialBackoff,
			Max:        c.MaxBackoff,
			Multiplier: c.BackoffMultiplier,
			JitterFrac: c.BackoffJitter,
		},
	}
}

// HTTPConfig configures the optional status/metrics listener.
type HTTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// HistoryConfig configures lifecycle event export.
type HistoryConfig struct {
	// DSN enables the SQL sink (sqlite path or postgres URL).
	DSN string `mapstructure:"dsn"`
	// ClickHouseAddr enables the ClickHouse sink.
	ClickHouseAddr     string `mapstructure:"clickhouse_addr"`
	ClickHouseDatabase string `mapstructure:"clickhouse_database"`
	ClickHouseUser     string `mapstructure:"clickhouse_user"`
	ClickHousePassword string `mapstructure:"clickhouse_password"`
	Table              string `mapstructure:"table"`
}

// CredentialsConfig selects the sink credential source.
type CredentialsConfig struct {
	// Mode is "env" (default) or "static".
	Mode            string `mapstructure:"mode"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// Resolver builds the credential resolver for the configured mode.
func (c CredentialsConfig) Resolver() (runtime.CredentialResolver, error) {
	switch strings.ToLower(c.Mode) {
	case "", "env":
		return runtime.EnvCredentials{}, nil
	case "static":
		return runtime.StaticCredentials{
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
		}, nil
	case "none":
		return runtime.NoCredentials{}, nil
	default:
		return nil, fmt.Errorf("unknown credentials mode %q", c.Mode)
	}
}

// Hint returns the codec negotiation hint.
func (c *Config) Hint() pipeline.CodecHint {
	accepts := c.SinkAccepts
	if len(accepts) == 0 {
		accepts = []string{"h264"}
	}
	return pipeline.CodecHint{SourceCodec: c.SourceCodec, SinkAccepts: accepts}
}

// Load reads configuration from the optional TOML file at path plus the
// environment. An empty path loads environment values only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be declared for AutomaticEnv to surface them in Unmarshal.
	for _, key := range boundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

var boundKeys = []string{
	"source.url", "source.username", "source.password", "source.transport",
	"sink.kind", "sink.stream_name", "sink.region", "sink.endpoint",
	"sink.retention_hours", "sink.fragment_duration",
	"credentials.mode", "credentials.access_key_id", "credentials.secret_access_key",
	"credentials.session_token",
	"worker.command", "worker.startup_window", "worker.graceful_timeout",
	"http.enabled", "http.listen", "http.base_path",
	"history.dsn", "history.clickhouse_addr", "history.table",
	"log.level", "log.dir",
}

// Validate checks the configuration the same way the descriptor builder
// will, so a bad target or sink fails at startup instead of on the first
// connect attempt.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("%w: source URL is required", pipeline.ErrInvalidTarget)
	}
	if _, err := pipeline.Build(c.Source, c.Sink, c.Hint()); err != nil {
		return err
	}
	if _, err := c.Credentials.Resolver(); err != nil {
		return err
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required when http.enabled")
	}
	return nil
}
