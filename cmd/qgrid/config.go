package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qgrid-ml/qgrid/internal/crosscheck"
)

// Config is the optional selfcheck configuration file. Numeric fields are
// pointers so "not set" is distinguishable from zero values; unset fields
// fall back to CLI flags and built-in defaults.
type Config struct {
	Tolerance *float64 `yaml:"tolerance"`

	// Cases replaces the built-in suite entirely when non-empty.
	Cases []crosscheck.CaseSpec `yaml:"cases"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
