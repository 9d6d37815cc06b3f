package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/patchcheck/internal/models"
	"github.com/spachava753/patchcheck/internal/util"
)

const (
	DefaultBuildScript = "build"
	DefaultOutput      = "patch-test.txt"
	DefaultRegistry    = "https://registry.npmjs.org/"
	DefaultLockfile    = "bun.lock"
)

// DefaultJobConfig returns a JobConfig with default values.
func DefaultJobConfig() models.JobConfig {
	return models.JobConfig{
		Manifest:    "package.json",
		BuildScript: DefaultBuildScript,
		Output:      DefaultOutput,
		LogLevel:    "info",
		LogFormat:   "text",
		Fetch: models.FetchConfig{
			Registry:    DefaultRegistry,
			Concurrency: 4,
		},
		Environment: models.EnvConfig{
			Type:  "local",
			Image: "oven/bun:1",
			CPUs:  1,
		},
	}
}

// LoadJobConfig loads a patchcheck.yaml or patchcheck.toml file. Relative
// paths inside it are resolved against the file's directory.
func LoadJobConfig(path string) (models.JobConfig, error) {
	cfg := DefaultJobConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, models.NewError(models.ErrConfigInvalid, fmt.Errorf("reading config: %w", err))
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, models.NewError(models.ErrConfigInvalid, fmt.Errorf("parsing %s: %w", path, err))
		}
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, models.NewError(models.ErrConfigInvalid, fmt.Errorf("parsing %s: %w", path, err))
		}
	default:
		return cfg, models.Errorf(models.ErrConfigInvalid, "unsupported config format %q", ext)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return cfg, fmt.Errorf("getting absolute path: %w", err)
	}
	ResolvePaths(&cfg, filepath.Dir(absPath))

	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values left by decoding.
func ApplyDefaults(cfg *models.JobConfig) {
	if cfg.BuildScript == "" {
		cfg.BuildScript = DefaultBuildScript
	}
	if cfg.Output == "" {
		cfg.Output = DefaultOutput
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Fetch.Registry == "" {
		cfg.Fetch.Registry = DefaultRegistry
	}
	if cfg.Fetch.Concurrency <= 0 {
		cfg.Fetch.Concurrency = 4
	}
	if cfg.Environment.Type == "" {
		cfg.Environment.Type = "local"
	}
	if cfg.Environment.CPUs <= 0 {
		cfg.Environment.CPUs = 1
	}
}

// ResolvePaths makes every relative file path in cfg absolute against dir.
func ResolvePaths(cfg *models.JobConfig, dir string) {
	for _, p := range []*string{
		&cfg.Manifest,
		&cfg.Lockfile,
		&cfg.Output,
		&cfg.Report,
		&cfg.Environment.BuildContext,
	} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		*p = filepath.Join(dir, *p)
	}
}

// Validate checks values that decoding alone cannot.
func Validate(cfg models.JobConfig) error {
	switch cfg.Environment.Type {
	case "local", "docker", "modal":
	default:
		return models.Errorf(models.ErrConfigInvalid, "unsupported environment type: %s", cfg.Environment.Type)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return models.Errorf(models.ErrConfigInvalid, "unknown log_level %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return models.Errorf(models.ErrConfigInvalid, "unknown log_format %q", cfg.LogFormat)
	}
	if _, err := util.ParseMemory(cfg.Environment.Memory); err != nil {
		return models.Errorf(models.ErrConfigInvalid, "environment.memory: %w", err)
	}
	if cfg.Environment.Type != "local" && cfg.Environment.Image == "" && cfg.Environment.BuildContext == "" {
		return models.Errorf(models.ErrConfigInvalid, "environment %s needs either 'image' or 'build_context'", cfg.Environment.Type)
	}
	for i, op := range cfg.ManifestOverlay {
		if _, ok := op["op"].(string); !ok {
			return models.Errorf(models.ErrConfigInvalid, "manifest_overlay[%d]: missing 'op'", i)
		}
	}
	return nil
}
