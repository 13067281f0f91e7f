// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads editkit configuration from YAML with environment
// overrides.
//
// # Precedence
//
//	Default() < YAML file < EDITKIT_* environment < command-line flags
//
// Flags are applied by the caller after Load.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/telemetry"
)

// Config is the full editkit configuration.
type Config struct {
	Apply     ApplyConfig      `yaml:"apply"`
	Store     StoreConfig      `yaml:"store"`
	Lock      LockConfig       `yaml:"lock"`
	Commit    CommitConfig     `yaml:"commit"`
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ApplyConfig tunes the patch applier and diff generator.
type ApplyConfig struct {
	FuzzWindow               int  `yaml:"fuzz_window" validate:"gte=0,lte=10000"`
	IgnoreTrailingWhitespace bool `yaml:"ignore_trailing_whitespace"`
	ContextLines             int  `yaml:"context_lines" validate:"gte=0,lte=100"`

	// SyntaxCheck adds tree-sitter syntax advisories to checks.
	SyntaxCheck bool `yaml:"syntax_check"`
}

// StoreConfig selects the proposal store.
type StoreConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=memory badger"`
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// LockConfig configures per-file locking.
type LockConfig struct {
	Dir      string `yaml:"dir" validate:"required_if=Advisory true"`
	Advisory bool   `yaml:"advisory"`
}

// CommitConfig configures reads and writes of workspace files.
type CommitConfig struct {
	Root            string        `yaml:"root"`
	Backups         bool          `yaml:"backups"`
	BaselineTimeout time.Duration `yaml:"baseline_timeout" validate:"gte=0"`
}

// ServerConfig configures `editkit serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit is the sustained request rate per second. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".editkit")
	return Config{
		Apply: ApplyConfig{
			FuzzWindow:               diff.DefaultApplyOptions().FuzzWindow,
			IgnoreTrailingWhitespace: true,
			ContextLines:             diff.DefaultContextLines,
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    filepath.Join(base, "store"),
		},
		Lock: LockConfig{
			Dir: filepath.Join(base, "locks"),
		},
		Commit: CommitConfig{
			BaselineTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8089",
			RateLimit:    50,
			Burst:        100,
			MaxBodyBytes: 16 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultPath returns ~/.editkit/editkit.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "editkit.yaml"
	}
	return filepath.Join(home, ".editkit", "editkit.yaml")
}

// ApplyOptions returns the applier options of the configuration.
func (c Config) ApplyOptions() diff.ApplyOptions {
	return diff.ApplyOptions{
		FuzzWindow:               c.Apply.FuzzWindow,
		IgnoreTrailingWhitespace: c.Apply.IgnoreTrailingWhitespace,
	}
}

// Load reads configuration.
//
// # Description
//
// Starts from Default, overlays the YAML file and then EDITKIT_* variables,
// and validates the result. An empty path means DefaultPath, which may be
// absent. An explicit path must exist. Unknown YAML keys are rejected.
//
// # Outputs
//
//   - Config: The effective configuration.
//   - error: Read, decode, environment or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating the directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv overlays EDITKIT_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"EDITKIT_STORE_BACKEND": &cfg.Store.Backend,
		"EDITKIT_STORE_PATH":    &cfg.Store.Path,
		"EDITKIT_LOCK_DIR":      &cfg.Lock.Dir,
		"EDITKIT_ROOT":          &cfg.Commit.Root,
		"EDITKIT_ADDR":          &cfg.Server.Addr,
		"EDITKIT_LOG_LEVEL":     &cfg.Log.Level,
		"EDITKIT_LOG_FORMAT":    &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"EDITKIT_IGNORE_TRAILING_WHITESPACE": &cfg.Apply.IgnoreTrailingWhitespace,
		"EDITKIT_SYNTAX_CHECK":               &cfg.Apply.SyntaxCheck,
		"EDITKIT_LOCK_ADVISORY":              &cfg.Lock.Advisory,
		"EDITKIT_BACKUPS":                    &cfg.Commit.Backups,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("EDITKIT_FUZZ_WINDOW"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EDITKIT_FUZZ_WINDOW: %w", err)
		}
		cfg.Apply.FuzzWindow = n
	}
	if v, ok := lookup("EDITKIT_BASELINE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EDITKIT_BASELINE_TIMEOUT: %w", err)
		}
		cfg.Commit.BaselineTimeout = d
	}
	return nil
}
