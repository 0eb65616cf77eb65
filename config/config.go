// Package config loads the daemon configuration from a YAML file and
// POE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Config holds all configuration for poed.
type Config struct {
	Chain struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"chain"`

	Store struct {
		Backend string `mapstructure:"backend"` // leveldb, memory
		Path    string `mapstructure:"path"`
		NoSync  bool   `mapstructure:"no_sync"`
	} `mapstructure:"store"`

	GRPC struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"grpc"`

	// Empty Addr disables the metrics endpoint.
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Log struct {
		Level  string `mapstructure:"level"`  // debug, info, warn, error
		Format string `mapstructure:"format"` // text, json
	} `mapstructure:"log"`

	Registry struct {
		// Used when the genesis document does not set a bound.
		MaxClaimLength uint32 `mapstructure:"max_claim_length"`
	} `mapstructure:"registry"`
}

// SetDefaults sets viper defaults. A non-empty prefix namespaces every
// key.
func (c *Config) SetDefaults(v *viper.Viper, prefix string) {
	p := ""
	if prefix != "" {
		p = prefix + "."
	}

	v.SetDefault(p+"chain.id", "poe")

	v.SetDefault(p+"store.backend", BackendLevelDB)
	v.SetDefault(p+"store.path", "~/.poe/data")
	v.SetDefault(p+"store.no_sync", false)

	v.SetDefault(p+"grpc.addr", "127.0.0.1:26658")
	v.SetDefault(p+"metrics.addr", "127.0.0.1:9464")

	v.SetDefault(p+"log.level", "info")
	v.SetDefault(p+"log.format", "text")

	v.SetDefault(p+"registry.max_claim_length", 256)
}

// Load reads configuration from path, or when path is empty from the
// first poe.yaml found in:
//   - .
//   - ~/.poe
//   - /etc/poe
//
// Environment variables override file values with prefix "POE_".
// Example: POE_STORE_BACKEND=memory overrides store.backend
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := &Config{}
	cfg.SetDefaults(v, "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("poe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.poe")
		v.AddConfigPath("/etc/poe")
	}

	v.SetEnvPrefix("POE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Store.Path = expandPath(cfg.Store.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendLevelDB:
		if c.Store.Path == "" {
			return errors.New("config: store.path is required for the leveldb backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	if c.Registry.MaxClaimLength == 0 {
		return errors.New("config: registry.max_claim_length must be positive")
	}
	if c.GRPC.Addr == "" {
		return errors.New("config: grpc.addr is required")
	}
	return nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
