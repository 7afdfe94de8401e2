// Package config resolves runtime settings and persists the user's working
// state between runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Amorter/bili-ticket/internal/remote"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BILI_TICKET_"

// Settings is the resolved runtime configuration.
type Settings struct {
	Endpoints   remote.Endpoints
	HTTPTimeout time.Duration
	UserAgent   string
	QRRenderer  string

	// RequestRate caps platform requests per second; 0 disables the cap.
	RequestRate  float64
	RequestBurst int

	LoginPollInterval time.Duration
	TransportRetries  int
	MonitorInterval   time.Duration

	RushWorkers   int
	RushAttempts  int
	RushBackoff   time.Duration
	RushRate      float64
	RushReportDir string

	StatusAddr string
	StatePath  string
}

// settingsFile mirrors the YAML schema. Zero values leave defaults alone,
// except transport_retries where an explicit 0 disables retries.
type settingsFile struct {
	Platform struct {
		PassportURL string        `yaml:"passport_url"`
		APIURL      string        `yaml:"api_url"`
		ShowURL     string        `yaml:"show_url"`
		Timeout     time.Duration `yaml:"timeout"`
		UserAgent   string        `yaml:"user_agent"`
		QRRenderer  string        `yaml:"qr_renderer"`
		Rate        float64       `yaml:"rate"`
		Burst       int           `yaml:"burst"`
	} `yaml:"platform"`
	Login struct {
		PollInterval     time.Duration `yaml:"poll_interval"`
		TransportRetries *int          `yaml:"transport_retries"`
	} `yaml:"login"`
	Monitor struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"monitor"`
	Rush struct {
		Workers   int           `yaml:"workers"`
		Attempts  int           `yaml:"attempts"`
		Backoff   time.Duration `yaml:"backoff"`
		Rate      float64       `yaml:"rate"`
		ReportDir string        `yaml:"report_dir"`
	} `yaml:"rush"`
	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`
	StatePath string `yaml:"state_path"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Endpoints:         remote.DefaultEndpoints(),
		HTTPTimeout:       30 * time.Second,
		QRRenderer:        remote.DefaultQRRenderer,
		RequestRate:       0,
		RequestBurst:      1,
		LoginPollInterval: 3 * time.Second,
		TransportRetries:  3,
		MonitorInterval:   1500 * time.Millisecond,
		RushWorkers:       1,
		RushAttempts:      60,
		RushBackoff:       50 * time.Millisecond,
		RushRate:          5,
		RushReportDir:     "report",
		StatusAddr:        "127.0.0.1:8787",
		StatePath:         "config.json",
	}
}

// Load resolves settings in priority order: defaults -> file -> env.
// A missing file is not an error; path may be empty.
func Load(path string) (Settings, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var f settingsFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return Settings{}, fmt.Errorf("parse settings file: %w", err)
			}
			f.apply(&cfg)
		case !errors.Is(err, fs.ErrNotExist):
			return Settings{}, fmt.Errorf("read settings file: %w", err)
		}
	}

	cfg.Endpoints.Passport = envOrDefault("PASSPORT_URL", cfg.Endpoints.Passport)
	cfg.Endpoints.API = envOrDefault("API_URL", cfg.Endpoints.API)
	cfg.Endpoints.Show = envOrDefault("SHOW_URL", cfg.Endpoints.Show)
	cfg.HTTPTimeout = envDuration("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.UserAgent = envOrDefault("USER_AGENT", cfg.UserAgent)
	cfg.QRRenderer = envOrDefault("QR_RENDERER", cfg.QRRenderer)
	cfg.RequestRate = envFloat("REQUEST_RATE", cfg.RequestRate)
	cfg.RequestBurst = envInt("REQUEST_BURST", cfg.RequestBurst)
	cfg.LoginPollInterval = envDuration("LOGIN_POLL_INTERVAL", cfg.LoginPollInterval)
	cfg.TransportRetries = envInt("TRANSPORT_RETRIES", cfg.TransportRetries)
	cfg.MonitorInterval = envDuration("MONITOR_INTERVAL", cfg.MonitorInterval)
	cfg.RushWorkers = envInt("RUSH_WORKERS", cfg.RushWorkers)
	cfg.RushAttempts = envInt("RUSH_ATTEMPTS", cfg.RushAttempts)
	cfg.RushBackoff = envDuration("RUSH_BACKOFF", cfg.RushBackoff)
	cfg.RushRate = envFloat("RUSH_RATE", cfg.RushRate)
	cfg.RushReportDir = envOrDefault("RUSH_REPORT_DIR", cfg.RushReportDir)
	cfg.StatusAddr = envOrDefault("STATUS_ADDR", cfg.StatusAddr)
	cfg.StatePath = envOrDefault("STATE_PATH", cfg.StatePath)

	if err := cfg.validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (f settingsFile) apply(cfg *Settings) {
	if f.Platform.PassportURL != "" {
		cfg.Endpoints.Passport = f.Platform.PassportURL
	}
	if f.Platform.APIURL != "" {
		cfg.Endpoints.API = f.Platform.APIURL
	}
	if f.Platform.ShowURL != "" {
		cfg.Endpoints.Show = f.Platform.ShowURL
	}
	if f.Platform.Timeout > 0 {
		cfg.HTTPTimeout = f.Platform.Timeout
	}
	if f.Platform.UserAgent != "" {
		cfg.UserAgent = f.Platform.UserAgent
	}
	if f.Platform.QRRenderer != "" {
		cfg.QRRenderer = f.Platform.QRRenderer
	}
	if f.Platform.Rate > 0 {
		cfg.RequestRate = f.Platform.Rate
	}
	if f.Platform.Burst > 0 {
		cfg.RequestBurst = f.Platform.Burst
	}
	if f.Login.PollInterval > 0 {
		cfg.LoginPollInterval = f.Login.PollInterval
	}
	if f.Login.TransportRetries != nil {
		cfg.TransportRetries = *f.Login.TransportRetries
	}
	if f.Monitor.Interval > 0 {
		cfg.MonitorInterval = f.Monitor.Interval
	}
	if f.Rush.Workers > 0 {
		cfg.RushWorkers = f.Rush.Workers
	}
	if f.Rush.Attempts > 0 {
		cfg.RushAttempts = f.Rush.Attempts
	}
	if f.Rush.Backoff > 0 {
		cfg.RushBackoff = f.Rush.Backoff
	}
	if f.Rush.Rate > 0 {
		cfg.RushRate = f.Rush.Rate
	}
	if f.Rush.ReportDir != "" {
		cfg.RushReportDir = f.Rush.ReportDir
	}
	if f.Status.Addr != "" {
		cfg.StatusAddr = f.Status.Addr
	}
	if f.StatePath != "" {
		cfg.StatePath = f.StatePath
	}
}

func (s Settings) validate() error {
	switch {
	case s.LoginPollInterval <= 0:
		return errors.New("login poll interval must be positive")
	case s.MonitorInterval <= 0:
		return errors.New("monitor interval must be positive")
	case s.TransportRetries < 0:
		return errors.New("transport retries must not be negative")
	case s.RequestRate < 0 || s.RushRate < 0:
		return errors.New("rates must not be negative")
	case s.RushWorkers <= 0 || s.RushAttempts <= 0:
		return errors.New("rush workers and attempts must be positive")
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(EnvPrefix + name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(name string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// EnvBool reads a boolean override such as BILI_TICKET_DEBUG.
func EnvBool(name string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
