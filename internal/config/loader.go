package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "ATLAS_"
	envConfigPath = "ATLAS_CONFIG"
	defaultPath   = "config.json"
)

type loadOptions struct {
	path      string
	overrides map[string]any
	skipCheck bool
}

// LoadOption tunes Load.
type LoadOption func(*loadOptions)

// WithPath reads the config file at path instead of ATLAS_CONFIG or ./config.json.
func WithPath(path string) LoadOption {
	return func(o *loadOptions) {
		if path != "" {
			o.path = path
		}
	}
}

// WithOverrides layers values on top of file and env, keyed like the file (e.g. "id_end").
func WithOverrides(values map[string]any) LoadOption {
	return func(o *loadOptions) {
		if len(values) > 0 {
			o.overrides = values
		}
	}
}

// WithoutValidation skips Validate, for commands that only need part of the config.
func WithoutValidation() LoadOption {
	return func(o *loadOptions) {
		o.skipCheck = true
	}
}

// Load builds a Config by layering defaults, file, env vars and overrides.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (JSON, or YAML by extension): WithPath, else ATLAS_CONFIG, else ./config.json
//  3. env (prefix ATLAS_)
//  4. overrides (CLI flags)
//
// A missing file is only an error when it was asked for explicitly.
func Load(_ context.Context, opts ...LoadOption) (*Config, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	explicit := o.path != ""
	if !explicit {
		if p := os.Getenv(envConfigPath); p != "" {
			o.path = p
			explicit = true
		} else {
			o.path = defaultPath
		}
	}

	base := New()
	k := koanf.New(".")

	if err := loadFile(k, o.path, explicit); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// ATLAS_OUTPUT_DIR -> output_dir (flat keys, underscores kept)
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// ATLAS_CONFIG names the file, it is not a setting
	k.Delete("config")

	if len(o.overrides) > 0 {
		if err := k.Load(confmap.Provider(o.overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("%w: overrides: %w", ErrLoadConfig, err)
		}
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if !o.skipCheck {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return err
	}

	var parser koanf.Parser = json.Parser()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
