// Package config resolves server settings from defaults, an optional YAML
// file and the environment, in increasing order of precedence. A .env file
// is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultPort            = "8080"
	DefaultMetricsPath     = "/metrics"
	DefaultShutdownTimeout = 10 * time.Second

	envConfigFile = "CONFIG_FILE"
	envEnvFile    = "ENV_FILE"
)

// reservedPaths are served by the application and cannot host metrics.
var reservedPaths = []string{"/", "/hello", "/health"}

// reservedPrefixes cover the routes huma registers for the OpenAPI document
// (/openapi.json, /openapi.yaml, /openapi-3.0.*), the JSON schemas and the
// docs UI.
var reservedPrefixes = []string{"/openapi", "/schemas", "/api-docs"}

// Config is the resolved server configuration.
type Config struct {
	Port string
	// DisablePersistenceAutowiring skips creating the Firestore client at
	// startup. Request handling never depends on it.
	DisablePersistenceAutowiring bool
	ProjectID                    string
	CredentialsFile              string
	// MetricsPath is where Prometheus metrics are exposed. Empty disables
	// the endpoint.
	MetricsPath     string
	ShutdownTimeout time.Duration
}

// Addr returns the listen address for the configured port.
func (c Config) Addr() string {
	return ":" + c.Port
}

// PersistenceEnabled reports whether the Firestore client should be wired.
func (c Config) PersistenceEnabled() bool {
	return !c.DisablePersistenceAutowiring
}

// fileConfig mirrors Config for YAML decoding. Pointers distinguish an
// absent key from an explicit zero value.
type fileConfig struct {
	Port                         *string `yaml:"port"`
	DisablePersistenceAutowiring *bool   `yaml:"disable_persistence_autowiring"`
	ProjectID                    *string `yaml:"project_id"`
	CredentialsFile              *string `yaml:"credentials_file"`
	MetricsPath                  *string `yaml:"metrics_path"`
	ShutdownTimeout              *string `yaml:"shutdown_timeout"`
}

// Defaults returns the configuration used when no source overrides it.
func Defaults() Config {
	return Config{
		Port:                         DefaultPort,
		DisablePersistenceAutowiring: true,
		MetricsPath:                  DefaultMetricsPath,
		ShutdownTimeout:              DefaultShutdownTimeout,
	}
}

// Load reads .env (or ENV_FILE), then the YAML file named by CONFIG_FILE,
// then environment overrides, and validates the result.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if path := os.Getenv(envConfigFile); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	if path := os.Getenv(envEnvFile); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrInvalid, path, err)
	}

	if fc.Port != nil {
		cfg.Port = strings.TrimSpace(*fc.Port)
	}
	if fc.DisablePersistenceAutowiring != nil {
		cfg.DisablePersistenceAutowiring = *fc.DisablePersistenceAutowiring
	}
	if fc.ProjectID != nil {
		cfg.ProjectID = strings.TrimSpace(*fc.ProjectID)
	}
	if fc.CredentialsFile != nil {
		cfg.CredentialsFile = strings.TrimSpace(*fc.CredentialsFile)
	}
	if fc.MetricsPath != nil {
		cfg.MetricsPath = strings.TrimSpace(*fc.MetricsPath)
	}
	if fc.ShutdownTimeout != nil {
		d, err := parseDuration("shutdown_timeout", *fc.ShutdownTimeout)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}

func mergeEnv(cfg *Config) error {
	if v := env("PORT"); v != "" {
		cfg.Port = v
	}
	if v := env("DISABLE_PERSISTENCE_AUTOWIRING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: DISABLE_PERSISTENCE_AUTOWIRING=%q is not a boolean", ErrInvalid, v)
		}
		cfg.DisablePersistenceAutowiring = b
	}
	if v := firstEnv("FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.ProjectID = v
	}
	if v := env("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		cfg.CredentialsFile = v
	}
	// An explicitly empty METRICS_PATH disables the endpoint.
	if v, ok := os.LookupEnv("METRICS_PATH"); ok {
		cfg.MetricsPath = strings.TrimSpace(v)
	}
	if v := env("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := parseDuration("SHUTDOWN_TIMEOUT", v)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %q must be a number between 1 and 65535", ErrInvalid, c.Port)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalid)
	}
	if c.MetricsPath != "" {
		if !strings.HasPrefix(c.MetricsPath, "/") {
			return fmt.Errorf("%w: metrics path %q must start with /", ErrInvalid, c.MetricsPath)
		}
		if slices.Contains(reservedPaths, c.MetricsPath) {
			return fmt.Errorf("%w: metrics path %q collides with an application route", ErrInvalid, c.MetricsPath)
		}
		for _, prefix := range reservedPrefixes {
			if strings.HasPrefix(c.MetricsPath, prefix) {
				return fmt.Errorf("%w: metrics path %q collides with the API documentation routes under %s", ErrInvalid, c.MetricsPath, prefix)
			}
		}
	}
	if c.PersistenceEnabled() && c.ProjectID == "" {
		return fmt.Errorf("%w: persistence autowiring requires a project ID", ErrInvalid)
	}
	return nil
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, name, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
	}
	return d, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := env(k); v != "" {
			return v
		}
	}
	return ""
}
