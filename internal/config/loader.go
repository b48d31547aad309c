package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables read by the loader.
const (
	EnvPrefix     = "PATPAT_"
	EnvConfigPath = "PATPAT_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PATPAT_CONFIG is set
//  3. env (prefix PATPAT_, "__" separates nested keys)
func Load(ctx context.Context) (*Config, error) {
	s, err := LoadStore(ctx)
	if err != nil {
		return nil, err
	}
	return s.Config()
}

// LoadStore reads the layered configuration into a Store that keeps the raw key
// tree for path based reads, writes and change notification.
func LoadStore(_ context.Context) (*Store, error) {
	path := os.Getenv(EnvConfigPath)
	k, err := readLayers(path)
	if err != nil {
		return nil, err
	}
	return newStore(k, path), nil
}

// readLayers loads the file and env layers into a fresh koanf instance.
func readLayers(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PATPAT_PROGRAM__MAIN_TPS -> program.main_tps, PATPAT_QUEUE_SIZE -> queue_size.
	// Single underscores are kept to match koanf tags on the struct.
	envProvider := env.Provider(EnvPrefix, ".", envKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	return k, nil
}

func envKey(s string) string {
	if s == EnvConfigPath {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
