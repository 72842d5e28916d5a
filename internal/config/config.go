package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	GinMode     string
	APIBaseURL  string
	DataDir     string
	LogLevel    string
	LogFormat   string
	TLSCertFile string
	TLSKeyFile  string

	// RequestTimeout bounds every call against the remote survey API.
	RequestTimeout time.Duration

	// WarnThreshold is how long a continuous outage must last before the
	// user is warned; GraceWindow is how much longer connectivity may stay
	// absent after the warning before the session is force-cleared.
	WarnThreshold time.Duration
	GraceWindow   time.Duration

	// SyncInterval is the periodic drain cadence while foregrounded and
	// online; ProbeInterval is the passive reachability poll cadence.
	SyncInterval  time.Duration
	ProbeInterval time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:           8787,
		GinMode:        "release",
		LogLevel:       "INFO",
		LogFormat:      "CONSOLE",
		RequestTimeout: 10 * time.Second,
		WarnThreshold:  15 * time.Minute,
		GraceWindow:    2 * time.Minute,
		SyncInterval:   5 * time.Minute,
		ProbeInterval:  time.Minute,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.APIBaseURL = env.Getenv("API_BASE_URL")
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL is required")
	}

	cfg.DataDir = env.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("DATA_DIR is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	durationKeys := []struct {
		key string
		dst *time.Duration
	}{
		{"REQUEST_TIMEOUT_SECONDS", &cfg.RequestTimeout},
		{"WARN_THRESHOLD_SECONDS", &cfg.WarnThreshold},
		{"GRACE_WINDOW_SECONDS", &cfg.GraceWindow},
		{"SYNC_INTERVAL_SECONDS", &cfg.SyncInterval},
		{"PROBE_INTERVAL_SECONDS", &cfg.ProbeInterval},
	}
	for _, d := range durationKeys {
		raw := env.Getenv(d.key)
		if raw == "" {
			continue
		}
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid %s", d.key)
		}
		*d.dst = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}
