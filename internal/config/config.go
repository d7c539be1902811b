package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment overrides, applied after the config file.
const (
	EnvAPIURL   = "SETTLE_DASH_API_URL"
	EnvWSURL    = "SETTLE_DASH_WS_URL"
	EnvLogLevel = "SETTLE_DASH_LOG_LEVEL"
	EnvLogDir   = "SETTLE_DASH_LOG_DIR"
)

type RealtimeConfig struct {
	Reconnect      bool   `json:"reconnect"`
	InitialBackoff string `json:"initialBackoff"`
	MaxBackoff     string `json:"maxBackoff"`
}

type RefreshConfig struct {
	AdminInterval   string `json:"adminInterval"`
	CompanyInterval string `json:"companyInterval"`
}

type NotificationsConfig struct {
	Enabled bool   `json:"enabled"`
	Sound   bool   `json:"sound"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type DevServerConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	JWTSecret     string `json:"jwtSecret"`
	TokenTTL      string `json:"tokenTTL"`
	AdminUsername string `json:"adminUsername"`
	AdminPassword string `json:"adminPassword"`
}

type Config struct {
	APIBaseURL    string              `json:"apiBaseURL"`
	WSBaseURL     string              `json:"wsBaseURL"` // derived from apiBaseURL when empty
	LogDir        string              `json:"logDir"`
	LogLevel      string              `json:"logLevel"`
	Realtime      RealtimeConfig      `json:"realtime"`
	Refresh       RefreshConfig       `json:"refresh"`
	Notifications NotificationsConfig `json:"notifications"`
	DevServer     DevServerConfig     `json:"devserver"`
}

func Defaults() Config {
	return Config{
		APIBaseURL: "http://localhost:8000",
		LogDir:     filepath.Join(baseDir(), "logs"),
		LogLevel:   "info",
		Realtime: RealtimeConfig{
			Reconnect:      true,
			InitialBackoff: "1s",
			MaxBackoff:     "30s",
		},
		Refresh: RefreshConfig{
			AdminInterval:   "30s",
			CompanyInterval: "10s",
		},
		Notifications: NotificationsConfig{Sound: true},
		DevServer: DevServerConfig{
			Host:          "127.0.0.1",
			Port:          8000,
			TokenTTL:      "24h",
			AdminUsername: "admin",
			AdminPassword: "admin123",
		},
	}
}

func baseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".settle-dash")
}

func DefaultPath() string {
	return filepath.Join(baseDir(), "config.json")
}

// DBPath is the sqlite file holding the durable session record.
func DBPath() string {
	return filepath.Join(baseDir(), "state.db")
}

// Load reads the config file at path over the defaults. A missing file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads a .env file from the working directory if one exists and
// then overrides cfg from the SETTLE_DASH_* variables.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		cfg.WSBaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		cfg.LogDir = v
	}
}

// RealtimeURL returns the websocket base URL. An explicit wsBaseURL wins;
// otherwise http(s) in apiBaseURL becomes ws(s).
func (c Config) RealtimeURL() (string, error) {
	if c.WSBaseURL != "" {
		return strings.TrimRight(c.WSBaseURL, "/"), nil
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("api url %q: unsupported scheme %q", c.APIBaseURL, u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Duration parses a config duration string, returning fallback when it is
// empty or malformed.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
