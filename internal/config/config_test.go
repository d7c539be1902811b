package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsprackett/settle-dash/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "http://localhost:8000" {
		t.Errorf("api url: got %q", cfg.APIBaseURL)
	}
	if !cfg.Realtime.Reconnect {
		t.Error("reconnect should default to on")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"apiBaseURL":"https://settle.example.com","realtime":{"maxBackoff":"1m"}}`), 0644)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "https://settle.example.com" {
		t.Errorf("got %q", cfg.APIBaseURL)
	}
	if cfg.Realtime.MaxBackoff != "1m" {
		t.Errorf("max backoff: got %q", cfg.Realtime.MaxBackoff)
	}
	if cfg.Refresh.AdminInterval != "30s" {
		t.Errorf("unset fields should keep defaults, got %q", cfg.Refresh.AdminInterval)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"apiBaseURL":`), 0644)
	if _, err := config.Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(config.EnvAPIURL, "http://10.0.0.5:9000")
	t.Setenv(config.EnvLogLevel, "debug")

	cfg := config.Defaults()
	config.ApplyEnv(&cfg)
	if cfg.APIBaseURL != "http://10.0.0.5:9000" {
		t.Errorf("api url: got %q", cfg.APIBaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
}

func TestApplyEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SETTLE_DASH_WS_URL=wss://push.example.com/\n"), 0644)
	t.Setenv(config.EnvWSURL, "")
	os.Unsetenv(config.EnvWSURL)

	cfg := config.Defaults()
	config.ApplyEnv(&cfg)
	got, err := cfg.RealtimeURL()
	if err != nil {
		t.Fatal(err)
	}
	if got != "wss://push.example.com" {
		t.Errorf("got %q", got)
	}
}

func TestRealtimeURL(t *testing.T) {
	cases := []struct {
		api  string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000"},
		{"https://settle.example.com/", "wss://settle.example.com"},
	}
	for _, tc := range cases {
		cfg := config.Config{APIBaseURL: tc.api}
		got, err := cfg.RealtimeURL()
		if err != nil {
			t.Fatalf("%s: %v", tc.api, err)
		}
		if got != tc.want {
			t.Errorf("RealtimeURL(%q): got %q want %q", tc.api, got, tc.want)
		}
	}

	if _, err := (config.Config{APIBaseURL: "ftp://x"}).RealtimeURL(); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestDuration(t *testing.T) {
	if got := config.Duration("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("got %v", got)
	}
	if got := config.Duration("", time.Second); got != time.Second {
		t.Errorf("empty: got %v", got)
	}
	if got := config.Duration("soon", time.Second); got != time.Second {
		t.Errorf("malformed: got %v", got)
	}
	if got := config.Duration("-5s", time.Second); got != time.Second {
		t.Errorf("negative: got %v", got)
	}
}
