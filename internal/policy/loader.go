package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicy reads and parses the policy at path and fills in defaults.
// Only version 1 is accepted.
func LoadPolicy(path string) (*IsolationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg IsolationPolicy
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Version != 1 {
		return nil, errors.New("unsupported policy version")
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadPolicyOrDefault is LoadPolicy, except that a missing file yields
// Default. The bool reports whether a file was read.
func LoadPolicyOrDefault(path string) (*IsolationPolicy, bool, error) {
	if path == "" {
		return Default(), false, nil
	}
	cfg, err := LoadPolicy(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}
