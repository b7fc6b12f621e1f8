// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/gifops/config"
)

var validateTests = []struct {
	name      string
	config    *Config
	wantPaths [][]string
	wantErr   bool
}{
	{
		name:   "default",
		config: config.Default(),
	},
	{
		name: "zero",
		// All fields are optional.
		config: &Config{},
	},
	{
		name: "log_level",
		config: &Config{
			LogLevel: ptr(slog.LevelWarn),
		},
	},
	{
		name: "filter_and_format",
		config: &Config{
			Split: config.Split{Format: "gif"},
			Merge: config.Merge{Filter: "bicubic"},
		},
		wantPaths: [][]string{
			{"merge", "filter"},
			{"split", "format"},
		},
		wantErr: true,
	},
	{
		name: "network",
		config: &Config{
			Server: config.Server{Network: "udp"},
		},
		wantPaths: [][]string{{"server", "network"}},
		wantErr:   true,
	},
}

func TestValidate(t *testing.T) {
	for _, test := range validateTests {
		t.Run(test.name, func(t *testing.T) {
			paths, err := Validate(config.Schema, test.config)
			if (err != nil) != test.wantErr {
				t.Errorf("unexpected error: %v", err)
			}
			if !cmp.Equal(test.wantPaths, paths) {
				t.Errorf("unexpected paths:\n--- want:\n+++ got:\n%s", cmp.Diff(test.wantPaths, paths))
			}
		})
	}
}

var uniqueTests = []struct {
	paths [][]string
	want  [][]string
}{
	{paths: nil, want: nil},
	{paths: [][]string{{"a"}}, want: [][]string{{"a"}}},
	{
		paths: [][]string{{"b"}, {"a", "b"}, {}, {"a"}, {"a", "b"}},
		want:  [][]string{{"a"}, {"a", "b"}, {"b"}},
	},
}

func TestUnique(t *testing.T) {
	for _, test := range uniqueTests {
		got := unique(test.paths)
		if !cmp.Equal(test.want, got) {
			t.Errorf("unexpected result for %q:\n--- want:\n+++ got:\n%s", test.paths, cmp.Diff(test.want, got))
		}
	}
}
