// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides gifops configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/kortschak/gifops/ops"
)

// Config is a complete configuration.
type Config struct {
	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`
	// Workers is the number of frames processed concurrently.
	// If Workers is zero, GOMAXPROCS workers are used.
	Workers int `json:"workers,omitempty" toml:"workers"`

	Split  Split  `json:"split" toml:"split"`
	Merge  Merge  `json:"merge" toml:"merge"`
	Server Server `json:"server" toml:"server"`

	Sum *Sum `json:"sum,omitempty" toml:"-"`
}

// Split is the split operation configuration.
type Split struct {
	// Format is the still image format of split frames.
	Format string `json:"format,omitempty" toml:"format"`
	// Prefix is the file name prefix of split frames
	// written by the command line tool.
	Prefix string `json:"prefix,omitempty" toml:"prefix"`
}

// Merge is the merge operation configuration.
type Merge struct {
	// Duration is the default frame duration in seconds.
	Duration *float64 `json:"duration,omitempty" toml:"duration"`
	// Filter is the resampling filter used to fit images
	// to the canvas.
	Filter string `json:"filter,omitempty" toml:"filter"`
	// Dither specifies Floyd-Steinberg error diffusion
	// when mapping images to their palettes.
	Dither bool `json:"dither,omitempty" toml:"dither"`
}

// Server is the RPC server configuration.
type Server struct {
	// Network is the network the server listens on,
	// "unix" or "tcp".
	Network string `json:"network,omitempty" toml:"network"`
	// Addr is the listen address. If Addr is empty a
	// socket in the runtime directory is used for unix
	// and a dynamic loopback port for tcp.
	Addr string `json:"addr,omitempty" toml:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Split: Split{
			Format: string(ops.PNG),
			Prefix: "frame",
		},
		Merge: Merge{
			Filter: "lanczos",
		},
		Server: Server{
			Network: "unix",
		},
	}
}

// Processor returns an ops.Processor configured by c, logging to log.
func (c *Config) Processor(log *slog.Logger) (ops.Processor, error) {
	format, err := ops.ParseFormat(c.Split.Format)
	if err != nil {
		return ops.Processor{}, err
	}
	return ops.Processor{
		Format:  format,
		Filter:  c.Merge.Filter,
		Dither:  c.Merge.Dither,
		Workers: c.Workers,
		Log:     log,
	}, nil
}

// MergeDuration returns the configured default merge frame duration.
func (c *Config) MergeDuration() float64 {
	if c.Merge.Duration == nil {
		return ops.DefaultDuration
	}
	return *c.Merge.Duration
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	log_level?:      _#log_level
	log_add_source?: bool
	workers?:        int & >=0
	split?:          _#split
	merge?:          _#merge
	server?:         _#server
	sum?:            string
}

_#split: {
	format?: _#format
	prefix?: !=""
}

_#merge: {
	duration?: number & >=0
	filter?:   _#filter
	dither?:   bool
}

_#server: {
	network?: "tcp" | "unix"
	addr?:    string
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
_#format:    =~"(?i)^(?:png|bmp|tiff)$"
_#filter:    =~"(?i)^(?:lanczos|catmullrom|mitchell|box|linear|nearest)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	return err
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
