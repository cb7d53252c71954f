package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the top-level YAML structure. Fields tagged env can be overridden from the
// environment.
type Config struct {
	Server   ServerConf   `yaml:"server"`
	Storage  StorageConf  `yaml:"storage"`
	Redis    RedisConf    `yaml:"redis"`
	Dispatch DispatchConf `yaml:"dispatch"`
	Preview  PreviewConf  `yaml:"preview"`
	Sender   SenderConf   `yaml:"sender"`
	Log      LogConf      `yaml:"log"`
}

type ServerConf struct {
	Addr           string   `yaml:"addr" env:"AUDIENCE_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConf struct {
	Path string `yaml:"path" env:"AUDIENCE_DB_PATH"`
}

// RedisConf enables the shared dashboard counter cache when Addr is set.
type RedisConf struct {
	Addr string `yaml:"addr" env:"AUDIENCE_REDIS_ADDR"`
	Key  string `yaml:"key"`
}

// DispatchConf holds the delivery pool sizing and retry policy. Sizing needs a restart;
// the retry policy is applied on reload.
type DispatchConf struct {
	Workers       int `yaml:"workers"`
	QueueDepth    int `yaml:"queue_depth"`
	MaxAttempts   int `yaml:"max_attempts"`
	SendTimeoutMs int `yaml:"send_timeout_ms"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	BackoffMaxMs  int `yaml:"backoff_max_ms"`
}

func (d DispatchConf) SendTimeout() time.Duration {
	return time.Duration(d.SendTimeoutMs) * time.Millisecond
}

func (d DispatchConf) BackoffBase() time.Duration {
	return time.Duration(d.BackoffBaseMs) * time.Millisecond
}

func (d DispatchConf) BackoffMax() time.Duration {
	return time.Duration(d.BackoffMaxMs) * time.Millisecond
}

type PreviewConf struct {
	DefaultSampleSize int `yaml:"default_sample_size"`
	MaxSampleSize     int `yaml:"max_sample_size"`
}

// SenderConf selects the message sender: log, simulated or webhook.
type SenderConf struct {
	Kind         string  `yaml:"kind"`
	FailureRate  float64 `yaml:"failure_rate"`
	MaxLatencyMs int     `yaml:"max_latency_ms"`
	URL          string  `yaml:"url"`
}

func (s SenderConf) MaxLatency() time.Duration {
	return time.Duration(s.MaxLatencyMs) * time.Millisecond
}

type LogConf struct {
	Level string `yaml:"level" env:"AUDIENCE_LOG_LEVEL"`
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (l LogConf) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "audience.db"
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = "audience:dashboard"
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 8
	}
	if cfg.Dispatch.QueueDepth == 0 {
		cfg.Dispatch.QueueDepth = 1000
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.SendTimeoutMs == 0 {
		cfg.Dispatch.SendTimeoutMs = 5000
	}
	if cfg.Dispatch.BackoffBaseMs == 0 {
		cfg.Dispatch.BackoffBaseMs = 500
	}
	if cfg.Dispatch.BackoffMaxMs == 0 {
		cfg.Dispatch.BackoffMaxMs = 30000
	}
	if cfg.Preview.DefaultSampleSize == 0 {
		cfg.Preview.DefaultSampleSize = 10
	}
	if cfg.Preview.MaxSampleSize == 0 {
		cfg.Preview.MaxSampleSize = 100
	}
	if cfg.Sender.Kind == "" {
		cfg.Sender.Kind = "simulated"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
