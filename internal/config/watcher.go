// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a configuration change identified by a Watcher. If Err is
// not nil, Config is nil and the previous configuration should be kept.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	switch len(c.Event) {
	case 0:
		return 0
	case 1:
		return c.Event[0].Op
	default:
		var op fsnotify.Op
		for _, o := range c.Event {
			op |= o.Op
		}
		return op
	}
}

// Watcher reports semantically meaningful changes to a configuration file.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	sum      *Sum
	failed   string
	log      *slog.Logger
}

// NewWatcher returns a Watcher for the configuration file at path. The
// directory holding the file is watched so that the file may be created,
// replaced or removed. If the directory does not exist, it is created.
// The debounce parameter specifies how long to wait after an
// fsnotify.Event before reading the file to ensure that writes will be
// reflected in the configuration's sum. If it is less than zero,
// FileDebounce is used.
func NewWatcher(path string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if debounce < 0 {
		debounce = FileDebounce
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	_, err = os.Stat(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		log:      log.With(slog.String("component", "config_watcher")),
	}
	cfg, err := Load(path)
	if err == nil {
		w.sum = cfg.Sum
	}
	return w, nil
}

// Watch sends configuration changes on the changes channel until ctx is
// cancelled. Writes that do not change the configuration semantically are
// not sent, and repeated identical load errors are sent once. Removing the
// file reverts to the default configuration.
func (w *Watcher) Watch(ctx context.Context, changes chan<- Change) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "event", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
			if !ev.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			if ev.Has(fsnotify.Write | fsnotify.Create) {
				time.Sleep(w.debounce)
			}

			cfg, err := Load(w.path)
			if err != nil {
				if err.Error() == w.failed {
					continue
				}
				w.failed = err.Error()
				w.log.LogAttrs(ctx, slog.LevelWarn, "load config", slog.Any("error", err))
				if !w.send(ctx, changes, Change{Event: []fsnotify.Event{ev}, Err: err}) {
					return nil
				}
				continue
			}
			w.failed = ""
			if cfg.Sum.Equal(w.sum) {
				w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", sumValue{cfg.Sum}))
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "set sum", slog.Any("sum", sumValue{cfg.Sum}), slog.Any("previous", sumValue{w.sum}))
			w.sum = cfg.Sum
			if !w.send(ctx, changes, Change{Event: []fsnotify.Event{ev}, Config: cfg}) {
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if !w.send(ctx, changes, Change{Err: err}) {
				return nil
			}
		}
	}
}

func (w *Watcher) send(ctx context.Context, changes chan<- Change, c Change) bool {
	w.log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Any("change", changeValue{c}))
	select {
	case <-ctx.Done():
		return false
	case changes <- c:
		return true
	}
}

// Close releases the Watcher's resources. It need not be called after
// Watch has returned.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
