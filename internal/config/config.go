// Package config loads process settings from the environment and the
// display descriptor table from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ErrMissingHub is returned when HA_URL or HA_TOKEN is unset
var ErrMissingHub = errors.New("HA_URL and HA_TOKEN environment variables must be set")

// Config holds every setting read from the environment
type Config struct {
	HubURL          string
	Token           string
	ListenAddr      string
	DescriptorsFile string
	LogLevel        string

	BridgeMaxAttempts      int
	BridgeBaseDelay        time.Duration
	BridgeHandshakeTimeout time.Duration
}

// Defaults
const (
	DefaultListenAddr             = ":8080"
	DefaultBridgeMaxAttempts      = 5
	DefaultBridgeBaseDelay        = time.Second
	DefaultBridgeHandshakeTimeout = 10 * time.Second
)

// Load reads a .env file when present, then the process environment
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		HubURL:          getenv("HA_URL"),
		Token:           getenv("HA_TOKEN"),
		ListenAddr:      getenv("LISTEN_ADDR"),
		DescriptorsFile: getenv("DESCRIPTORS_FILE"),
		LogLevel:        getenv("LOG_LEVEL"),

		BridgeMaxAttempts:      DefaultBridgeMaxAttempts,
		BridgeBaseDelay:        DefaultBridgeBaseDelay,
		BridgeHandshakeTimeout: DefaultBridgeHandshakeTimeout,
	}

	if cfg.HubURL == "" || cfg.Token == "" {
		return nil, ErrMissingHub
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if v := getenv("BRIDGE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid BRIDGE_MAX_ATTEMPTS %q: must be a positive integer", v)
		}
		cfg.BridgeMaxAttempts = n
	}

	var err error
	if cfg.BridgeBaseDelay, err = durationEnv(getenv, "BRIDGE_BASE_DELAY", DefaultBridgeBaseDelay); err != nil {
		return nil, err
	}
	if cfg.BridgeHandshakeTimeout, err = durationEnv(getenv, "BRIDGE_HANDSHAKE_TIMEOUT", DefaultBridgeHandshakeTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationEnv(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, v)
	}
	return d, nil
}

// NewLogger builds the process logger for the configured level.
// "debug" selects the development logger; anything else is production JSON.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
