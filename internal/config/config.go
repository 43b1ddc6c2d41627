// Package config loads the chatwire configuration file and the .env files
// holding provider API keys.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/casualjim/chatwire/pkg/natsx"
	"github.com/casualjim/chatwire/provider"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvConfigPath names the variable that points at the config file.
const EnvConfigPath = "CHATWIRE_CONFIG"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the content of config.toml.
type Config struct {
	Defaults  Defaults                  `toml:"defaults"`
	Storage   Storage                   `toml:"storage"`
	Log       Log                       `toml:"log"`
	NATS      NATS                      `toml:"nats"`
	Providers []provider.ProviderConfig `toml:"providers"`
}

// Defaults are used for new conversations.
type Defaults struct {
	Provider string `toml:"provider" validate:"required"`
	Model    string `toml:"model" validate:"required"`
	provider.Params
}

// Target returns the default provider and model.
func (d Defaults) Target() provider.Target {
	return provider.Target{ProviderID: d.Provider, ModelID: d.Model}
}

// Storage locates the conversation database.
type Storage struct {
	Path string `toml:"path" validate:"required"`
}

// Log configures the process logger.
type Log struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
}

// SlogLevel converts Level, defaulting to info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NATS enables the NATS event broker when URL is set.
type NATS struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// Enabled reports whether events should go through NATS.
func (n NATS) Enabled() bool {
	return n.URL != ""
}

// Dir is the directory holding config.toml and the default database.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find config directory: %w", err)
	}
	return filepath.Join(dir, "chatwire"), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dbPath := "chatwire.db"
	if dir, err := Dir(); err == nil {
		dbPath = filepath.Join(dir, "chatwire.db")
	}
	return &Config{
		Defaults: Defaults{
			Provider: provider.LocalID,
			Model:    "llama3.2",
			Params:   provider.DefaultParams(),
		},
		Storage: Storage{Path: dbPath},
		Log:     Log{Level: "info"},
		NATS:    NATS{Subject: natsx.DefaultSubject},
	}
}

// Path resolves the config file: explicit wins over $CHATWIRE_CONFIG, which
// wins over config.toml in Dir.
func Path(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file over the defaults. A missing file is only an
// error when its path was given explicitly.
func Load(explicit string) (*Config, error) {
	cfg := Default()
	path, err := Path(explicit)
	if err != nil {
		return nil, err
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, os.ErrNotExist) && explicit == "":
		return cfg, cfg.Validate()
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks every section.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %s validation (got %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
	}
	return errors.Join(errs...)
}

// Catalog returns the built-in providers with the configured ones merged in.
func (c *Config) Catalog() (*provider.Catalog, error) {
	catalog := provider.DefaultCatalog()
	var errs []error
	for _, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, errors.New("provider without id"))
			continue
		}
		if err := catalog.Merge(p).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return catalog, nil
}

// LoadEnv loads API keys from .env files. Variables already set win, missing
// files are skipped. Without paths, .env in the working directory and in Dir
// are tried.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = append(paths, ".env")
		if dir, err := Dir(); err == nil {
			paths = append(paths, filepath.Join(dir, ".env"))
		}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}
