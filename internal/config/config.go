// Package config loads chamicore-ui configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr        = ":9880"
	defaultAPIURL            = "http://localhost:9877/api"
	defaultRefreshInterval   = 30 * time.Second
	defaultNATSSubjectPrefix = "chamicore.ui"
	defaultCLIConfigPath     = "~/.chamicore/config.yaml"
)

// Config holds service runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	DevMode    bool

	// APIURL is the base URL of the remote virtm API mirrored by the store.
	APIURL string
	// APITimeout bounds each remote request. Zero leaves it to the transport.
	APITimeout time.Duration

	RefreshInterval  time.Duration
	RefreshOnStartup bool

	MetricsEnabled bool
	TracesEnabled  bool

	// NATSURL enables change-event publishing when non-empty.
	NATSURL           string
	NATSSubjectPrefix string

	// TokenFile names a file holding the API token, re-read when it changes.
	TokenFile           string
	AllowCLIConfigToken bool
	CLIConfigPath       string
}

// Load returns configuration parsed from environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:          envOrDefault("CHAMICORE_UI_LISTEN_ADDR", defaultListenAddr),
		LogLevel:            strings.ToLower(strings.TrimSpace(envOrDefault("CHAMICORE_UI_LOG_LEVEL", "info"))),
		DevMode:             envBool("CHAMICORE_UI_DEV_MODE", false),
		APIURL:              strings.TrimSpace(envOrDefault("CHAMICORE_UI_API_URL", defaultAPIURL)),
		APITimeout:          envPositiveDuration("CHAMICORE_UI_API_TIMEOUT", 0),
		RefreshInterval:     envPositiveDuration("CHAMICORE_UI_REFRESH_INTERVAL", defaultRefreshInterval),
		RefreshOnStartup:    envBool("CHAMICORE_UI_REFRESH_ON_STARTUP", true),
		MetricsEnabled:      envBool("CHAMICORE_UI_METRICS_ENABLED", true),
		TracesEnabled:       envBool("CHAMICORE_UI_TRACES_ENABLED", false),
		NATSURL:             strings.TrimSpace(os.Getenv("CHAMICORE_UI_NATS_URL")),
		NATSSubjectPrefix:   strings.Trim(strings.TrimSpace(envOrDefault("CHAMICORE_UI_NATS_SUBJECT_PREFIX", defaultNATSSubjectPrefix)), "."),
		TokenFile:           strings.TrimSpace(os.Getenv("CHAMICORE_UI_TOKEN_FILE")),
		AllowCLIConfigToken: envBool("CHAMICORE_UI_ALLOW_CLI_CONFIG_TOKEN", false),
		CLIConfigPath:       strings.TrimSpace(envOrDefault("CHAMICORE_UI_CLI_CONFIG_PATH", defaultCLIConfigPath)),
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.NATSSubjectPrefix == "" {
		cfg.NATSSubjectPrefix = defaultNATSSubjectPrefix
	}

	parsed, err := url.Parse(cfg.APIURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CHAMICORE_UI_API_URL %q: %w", cfg.APIURL, err)
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return Config{}, fmt.Errorf("invalid CHAMICORE_UI_API_URL %q (scheme must be http|https)", cfg.APIURL)
	}
	if parsed.Host == "" {
		return Config{}, fmt.Errorf("invalid CHAMICORE_UI_API_URL %q (missing host)", cfg.APIURL)
	}

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		switch strings.ToLower(v) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		default:
			return defaultVal
		}
	}
	return b
}

func envPositiveDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return defaultVal
	}
	return parsed
}
