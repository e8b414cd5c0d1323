package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/authstate/internal/usererr"
)

// FileNames are searched for, in order, in each directory.
var FileNames = []string{"authstate.yaml", "authstate.yml", ".authstate.yaml"}

// Find walks from dir towards the filesystem root and returns the first
// config file it sees.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", usererr.Newf("no config file found (looked for %v from %s upwards); pass --config", FileNames, dir)
		}
		dir = parent
	}
}

// Resolve returns the config path to use: explicit, relative to cwd, when
// given, otherwise the result of Find(cwd).
func Resolve(cwd, explicit string) (string, error) {
	if explicit == "" {
		return Find(cwd)
	}
	if !filepath.IsAbs(explicit) {
		explicit = filepath.Join(cwd, explicit)
	}
	return explicit, nil
}

// Load reads, defaults and validates the config at path. Problems with the
// file itself are user errors.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, usererr.Newf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, usererr.Newf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.Path = abs
	cfg.Root = filepath.Dir(abs)
	return cfg, nil
}

// Parse decodes, defaults and validates a config document. Unknown keys are
// rejected so typos do not pass silently.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config is empty")
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
