package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleYAML = `
server:
  addr: ":9090"
  allowed_origins: ["http://localhost:5173"]
storage:
  path: /tmp/audience.db
dispatch:
  workers: 4
  max_attempts: 5
sender:
  kind: simulated
  failure_rate: 0.1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audience.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	l, err := NewLoader(writeConfig(t, sampleYAML), nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	cfg := l.Config()
	if cfg.Server.Addr != ":9090" || cfg.Dispatch.Workers != 4 || cfg.Dispatch.MaxAttempts != 5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Dispatch.QueueDepth != 1000 || cfg.Dispatch.BackoffBase() != 500*time.Millisecond || cfg.Preview.MaxSampleSize != 100 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	l, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	want := Default()
	if got := l.Config(); got.Server.Addr != want.Server.Addr || got.Sender.Kind != "simulated" {
		t.Fatalf("got %+v, want defaults", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUDIENCE_ADDR", ":7070")
	t.Setenv("AUDIENCE_DB_PATH", "/data/a.db")
	t.Setenv("AUDIENCE_REDIS_ADDR", "redis:6379")
	t.Setenv("AUDIENCE_LOG_LEVEL", "debug")

	l, err := NewLoader(writeConfig(t, sampleYAML), nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	cfg := l.Config()
	if cfg.Server.Addr != ":7070" || cfg.Storage.Path != "/data/a.db" || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Log.SlogLevel().String() != "DEBUG" {
		t.Fatalf("log level = %s", cfg.Log.SlogLevel())
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.Workers = -1
	cfg.Dispatch.BackoffBaseMs = 60000
	cfg.Sender.FailureRate = 1.5
	cfg.Log.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"dispatch.workers", "backoff_base_ms", "failure_rate", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_Webhook(t *testing.T) {
	cfg := Default()
	cfg.Sender.Kind = "webhook"
	if err := Validate(cfg); err == nil {
		t.Fatal("webhook without url should fail")
	}
	cfg.Sender.URL = "https://vendor.example.com/send"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReload_InvalidKeepsPrevious(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	l, err := NewLoader(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	l.OnChange(func(*Config) { calls.Add(1) })

	if err := os.WriteFile(path, []byte("dispatch:\n  max_attempts: -3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reload(); err == nil {
		t.Fatal("expected validation error")
	}
	if l.Config().Dispatch.MaxAttempts != 5 || calls.Load() != 0 {
		t.Fatal("invalid reload must not replace config")
	}

	if err := os.WriteFile(path, []byte(strings.Replace(sampleYAML, "max_attempts: 5", "max_attempts: 2", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reload(); err != nil {
		t.Fatal(err)
	}
	if l.Config().Dispatch.MaxAttempts != 2 || calls.Load() != 1 {
		t.Fatalf("reload not applied: attempts=%d calls=%d", l.Config().Dispatch.MaxAttempts, calls.Load())
	}
}

func TestWatch_HotReload(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	l, err := NewLoader(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	stop, err := l.Watch()
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte(strings.Replace(sampleYAML, "failure_rate: 0.1", "failure_rate: 0.4", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Sender.FailureRate == 0.4 {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
