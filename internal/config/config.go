// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and live
// reloading.
package config

import (
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/gifops/config"
)

// Alias the publicly visible types.
type (
	Config = config.Config
	Sum    = config.Sum
)

// InvalidError is returned when a configuration does not satisfy
// the configuration schema or holds unknown keys.
type InvalidError struct {
	// Paths is the list of invalid field paths.
	Paths [][]string
	Err   error
}

func (e *InvalidError) Error() string {
	if len(e.Paths) == 0 {
		return fmt.Sprintf("invalid config: %v", e.Err)
	}
	paths := make([]string, len(e.Paths))
	for i, p := range e.Paths {
		paths[i] = strings.Join(p, ".")
	}
	return fmt.Sprintf("invalid config at %s: %v", strings.Join(paths, ", "), e.Err)
}

func (e *InvalidError) Unwrap() error {
	return e.Err
}

// Load returns the configuration held in the TOML file at path. Values
// not set in the file take their defaults. If the file does not exist,
// the default configuration is returned.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := config.Default()
		cfg.Sum, err = sum(cfg)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Parse(b)
}

// Parse returns the configuration held in the TOML data in b.
func Parse(b []byte) (*Config, error) {
	cfg := config.Default()
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		paths := make([][]string, len(undecoded))
		for i, k := range undecoded {
			paths[i] = slices.Clone(k)
		}
		return nil, &InvalidError{Paths: paths, Err: errors.New("unknown field")}
	}
	paths, err := Validate(config.Schema, cfg)
	if err != nil {
		return nil, &InvalidError{Paths: paths, Err: err}
	}
	cfg.Sum, err = sum(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// sum returns the semantic hash of cfg.
func sum(cfg *Config) (*Sum, error) {
	c := *cfg
	c.Sum = nil
	h := sha1.New()
	err := json.NewEncoder(h).Encode(c)
	if err != nil {
		return nil, err
	}
	return (*Sum)(h.Sum(nil)), nil
}
