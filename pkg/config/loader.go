package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads config.yaml from dir, expands environment variables, merges it
// over the built-in Defaults, and validates the result. This is the sole
// entry point components should use to obtain a *System.
func Load(ctx context.Context, dir string) (*System, error) {
	_ = ctx
	log := slog.With("component", "config", "config_dir", dir)
	log.Info("loading system configuration")

	sys := Defaults()
	sys.configDir = dir

	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, sys); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	case os.IsNotExist(err):
		log.Warn("no config.yaml found, using built-in defaults")
	default:
		return nil, NewLoadError(path, err)
	}

	if err := validate(sys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("system configuration ready",
		"concurrency_ceiling", sys.Concurrency.GlobalCeiling,
		"poll_interval", sys.Polling.Interval,
		"llm_providers", len(sys.LLMProviders))
	return sys, nil
}
