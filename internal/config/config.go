// Package config manages meshnoded configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete meshnoded configuration.
type Config struct {
	Radio        RadioConfig        `koanf:"radio"`
	Store        StoreConfig        `koanf:"store"`
	Flash        FlashConfig        `koanf:"flash"`
	Admin        AdminConfig        `koanf:"admin"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Log          LogConfig          `koanf:"log"`
	Capabilities CapabilitiesConfig `koanf:"capabilities"`
	Signing      SigningConfig      `koanf:"signing"`
}

// RadioConfig selects and configures the transport driver.
type RadioConfig struct {
	// Driver is "serial" or "loopback". loopback joins an in-process
	// fabric and exists for local testing, not production deployment.
	Driver string `koanf:"driver"`

	// Device is the UART device path when Driver is "serial".
	Device string `koanf:"device"`

	// BaudRate is the UART line speed when Driver is "serial".
	BaudRate int `koanf:"baud_rate"`

	// FabricName is loaded but not consulted: the "loopback" driver
	// always joins a fresh in-process fabric of its own, so it shares
	// its medium with no other process.
	FabricName string `koanf:"fabric_name"`
}

// StoreConfig selects the persisted identity/routing store.
type StoreConfig struct {
	// Path is the nonvolatile store file path.
	Path string `koanf:"path"`
}

// FlashConfig selects the firmware staging store. An empty Path disables
// OTA: the node will never accept a FIRMWARE_CONFIG_RESPONSE.
type FlashConfig struct {
	Path string `koanf:"path"`
}

// AdminConfig holds the admin HTTP endpoint configuration.
type AdminConfig struct {
	// Addr is the HTTP listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// CapabilitiesConfig mirrors mesh.Capabilities for declarative
// configuration.
type CapabilitiesConfig struct {
	Repeater       bool `koanf:"repeater"`
	Gateway        bool `koanf:"gateway"`
	AutoFindParent bool `koanf:"auto_find_parent"`
}

// SigningConfig controls the engine's inbound signing requirement and the
// nonce-handshake timeout.
type SigningConfig struct {
	RequireSignedInbound bool          `koanf:"require_signed_inbound"`
	VerificationTimeout  time.Duration `koanf:"verification_timeout"`

	// Key is the pre-shared HMAC secret for internal/signer.HMAC. Required
	// whenever RequireSignedInbound is set.
	Key string `koanf:"key"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults for a
// battery-oriented mesh leaf node.
func DefaultConfig() *Config {
	return &Config{
		Radio: RadioConfig{
			Driver:     "serial",
			BaudRate:   9600,
			FabricName: "default",
		},
		Store: StoreConfig{
			Path: "/var/lib/meshnoded/nvram.bin",
		},
		Admin: AdminConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Signing: SigningConfig{
			VerificationTimeout: 5 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for meshnoded
// configuration. Variables are named MESHNODE_<section>_<key>, e.g.
// MESHNODE_RADIO_DEVICE.
const envPrefix = "MESHNODE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MESHNODE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips
// the file layer.
//
// Environment variable mapping:
//
//	MESHNODE_RADIO_DEVICE  -> radio.device
//	MESHNODE_ADMIN_ADDR    -> admin.addr
//	MESHNODE_METRICS_ADDR  -> metrics.addr
//	MESHNODE_LOG_LEVEL     -> log.level
//
// Uses koanf/v2 with file + env providers and a YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MESHNODE_RADIO_DEVICE -> radio.device.
// Strips the MESHNODE_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"radio.driver":                   defaults.Radio.Driver,
		"radio.baud_rate":                defaults.Radio.BaudRate,
		"radio.fabric_name":              defaults.Radio.FabricName,
		"store.path":                     defaults.Store.Path,
		"admin.addr":                     defaults.Admin.Addr,
		"metrics.addr":                   defaults.Metrics.Addr,
		"metrics.path":                   defaults.Metrics.Path,
		"log.level":                      defaults.Log.Level,
		"log.format":                     defaults.Log.Format,
		"signing.require_signed_inbound": defaults.Signing.RequireSignedInbound,
		"signing.verification_timeout":   defaults.Signing.VerificationTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyStorePath indicates the nonvolatile store path is empty.
	ErrEmptyStorePath = errors.New("store.path must not be empty")

	// ErrInvalidRadioDriver indicates radio.driver is not a recognized value.
	ErrInvalidRadioDriver = errors.New(`radio.driver must be "serial" or "loopback"`)

	// ErrEmptySerialDevice indicates a serial radio was configured without a device path.
	ErrEmptySerialDevice = errors.New(`radio.device must not be empty when radio.driver is "serial"`)

	// ErrInvalidVerificationTimeout indicates the signing handshake timeout is non-positive.
	ErrInvalidVerificationTimeout = errors.New("signing.verification_timeout must be > 0")

	// ErrMissingSigningKey indicates inbound signing is required but no key was configured.
	ErrMissingSigningKey = errors.New("signing.key must not be empty when signing.require_signed_inbound is true")
)

// ValidRadioDrivers lists the recognized radio.driver strings.
var ValidRadioDrivers = map[string]bool{
	"serial":   true,
	"loopback": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return ErrEmptyStorePath
	}

	if !ValidRadioDrivers[cfg.Radio.Driver] {
		return ErrInvalidRadioDriver
	}

	if cfg.Radio.Driver == "serial" && cfg.Radio.Device == "" {
		return ErrEmptySerialDevice
	}

	if cfg.Signing.VerificationTimeout <= 0 {
		return ErrInvalidVerificationTimeout
	}

	if cfg.Signing.RequireSignedInbound && cfg.Signing.Key == "" {
		return ErrMissingSigningKey
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
