// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The gifops command splits, merges, reverses and retimes GIF animations.
//
// Usage:
//
//	gifops [-config path] [-log level] [-lines] <command> [arguments]
//
// The commands are:
//
//	split   [-format png|bmp|tiff] [-out dir] [-prefix name] input.gif
//	merge   [-duration seconds] [-filter name] [-dither] -out out.gif inputs...
//	reverse -out out.gif input.gif
//	retime  -duration seconds -out out.gif input.gif
//	serve   [-network unix|tcp] [-addr address]
//
// An input or output of "-" is read from stdin or written to stdout.
// Directories given to merge are expanded to the image files they hold in
// natural sort order.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/kortschak/jsonrpc2"
	"github.com/maruel/natural"

	public "github.com/kortschak/gifops/config"
	"github.com/kortschak/gifops/internal/animation"
	"github.com/kortschak/gifops/internal/config"
	"github.com/kortschak/gifops/internal/slogext"
	"github.com/kortschak/gifops/internal/version"
	"github.com/kortschak/gifops/internal/xdg"
	"github.com/kortschak/gifops/ops"
	"github.com/kortschak/gifops/rpc"
)

// Exit codes.
const (
	success  = 0
	failure  = 1
	invocErr = 2
)

func main() {
	os.Exit(Main())
}

// Main is the gifops command. It returns the exit code of the command.
func Main() int {
	var defaultConfig string
	if path, ok := xdg.ConfigPath(filepath.Join("gifops", "config.toml")); ok {
		defaultConfig = path
	}
	cfgPath := flag.String("config", defaultConfig, "path to TOML configuration file")
	logging := flag.String("log", "", "logging level (debug, info, warn or error) overriding the configuration")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %s:

  %[1]s [options] split [-format png|bmp|tiff] [-out dir] [-prefix name] input.gif
  %[1]s [options] merge [-duration seconds] [-filter name] [-dither] -out out.gif inputs...
  %[1]s [options] reverse -out out.gif input.gif
  %[1]s [options] retime -duration seconds -out out.gif input.gif
  %[1]s [options] serve [-network unix|tcp] [-addr address]

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return failure
		}
		return success
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return invocErr
	}

	cfg := public.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			return failure
		}
	}

	var level slog.LevelVar
	if cfg.LogLevel != nil {
		level.Set(*cfg.LogLevel)
	}
	if *logging != "" {
		err := level.UnmarshalText([]byte(*logging))
		if err != nil {
			flag.Usage()
			return invocErr
		}
	}
	addSource := slogext.NewAtomicBool(*lines || (cfg.AddSource != nil && *cfg.AddSource))

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})

	c := command{
		cfg:       cfg,
		cfgPath:   *cfgPath,
		level:     &level,
		logFlag:   *logging != "",
		addSource: addSource,
		lineFlag:  *lines,
		log:       log,
	}
	name, args := flag.Arg(0), flag.Args()[1:]
	var run func([]string) error
	switch name {
	case "split":
		run = c.split
	case "merge":
		run = c.merge
	case "reverse":
		run = c.reverse
	case "retime":
		run = c.retime
	case "serve":
		run = c.serve
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", name)
		flag.Usage()
		return invocErr
	}
	err := run(args)
	switch {
	case err == nil:
		return success
	case errors.Is(err, flag.ErrHelp):
		return success
	case errors.As(err, new(usageError)):
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return invocErr
	}
	if kind := ops.KindOf(err); kind != 0 {
		fmt.Fprintf(os.Stderr, "%s: %v\n", kind, err)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	return failure
}

// usageError is an invalid command invocation.
type usageError string

func (e usageError) Error() string { return string(e) }

// command holds the state shared by subcommands.
type command struct {
	cfg     *public.Config
	cfgPath string

	level     *slog.LevelVar
	logFlag   bool
	addSource *atomic.Bool
	lineFlag  bool

	log *slog.Logger
}

func (c *command) processor() (ops.Processor, error) {
	return c.cfg.Processor(c.log.With(slog.String("component", "ops")))
}

// flags returns a new flag set for the named subcommand.
func flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// parse parses args into fs, returning a usageError for invalid arguments.
func parse(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError(err.Error())
	}
	return nil
}

func (c *command) split(args []string) error {
	fs := flags("split")
	format := fs.String("format", c.cfg.Split.Format, "still image format of frames (png, bmp or tiff)")
	dir := fs.String("out", ".", "output directory")
	prefix := fs.String("prefix", c.cfg.Split.Prefix, "frame file name prefix")
	err := parse(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("split requires exactly one input")
	}
	if *prefix == "" {
		*prefix = "frame"
	}

	proc, err := c.processor()
	if err != nil {
		return err
	}
	proc.Format, err = ops.ParseFormat(*format)
	if err != nil {
		return usageError(err.Error())
	}
	data, err := readGIF(ops.OpSplit, fs.Arg(0))
	if err != nil {
		return err
	}
	frames, err := proc.Split(data)
	if err != nil {
		return err
	}
	err = os.MkdirAll(*dir, 0o755)
	if err != nil {
		return err
	}
	for i, f := range frames {
		path := filepath.Join(*dir, fmt.Sprintf("%s_%03d%s", *prefix, i, proc.Format.Ext()))
		err = os.WriteFile(path, f, 0o644)
		if err != nil {
			return err
		}
	}
	c.log.LogAttrs(context.Background(), slog.LevelInfo, "split", slog.String("input", fs.Arg(0)), slog.Int("frames", len(frames)), slog.String("dir", *dir))
	return nil
}

func (c *command) merge(args []string) error {
	fs := flags("merge")
	duration := fs.Float64("duration", c.cfg.MergeDuration(), "frame duration in seconds")
	filter := fs.String("filter", c.cfg.Merge.Filter, "resampling filter ("+strings.Join(ops.Filters(), ", ")+")")
	dither := fs.Bool("dither", c.cfg.Merge.Dither, "use Floyd-Steinberg dithering")
	out := fs.String("out", "", "output GIF path")
	err := parse(fs, args)
	if err != nil {
		return err
	}
	if *out == "" {
		return usageError("merge requires an output path")
	}
	if fs.NArg() == 0 {
		return usageError("merge requires at least one input")
	}

	proc, err := c.processor()
	if err != nil {
		return err
	}
	proc.Filter = *filter
	proc.Dither = *dither

	paths, err := expand(fs.Args())
	if err != nil {
		return err
	}
	images := make([][]byte, len(paths))
	for i, p := range paths {
		images[i], err = readFile(p)
		if err != nil {
			return err
		}
	}
	b, err := proc.Merge(images, duration)
	if err != nil {
		return err
	}
	c.log.LogAttrs(context.Background(), slog.LevelInfo, "merge", slog.Int("images", len(images)), slog.String("output", *out))
	return writeFile(*out, b)
}

func (c *command) reverse(args []string) error {
	fs := flags("reverse")
	out := fs.String("out", "", "output GIF path")
	err := parse(fs, args)
	if err != nil {
		return err
	}
	if *out == "" {
		return usageError("reverse requires an output path")
	}
	if fs.NArg() != 1 {
		return usageError("reverse requires exactly one input")
	}

	proc, err := c.processor()
	if err != nil {
		return err
	}
	data, err := readGIF(ops.OpReverse, fs.Arg(0))
	if err != nil {
		return err
	}
	b, err := proc.Reverse(data)
	if err != nil {
		return err
	}
	return writeFile(*out, b)
}

func (c *command) retime(args []string) error {
	fs := flags("retime")
	duration := fs.Float64("duration", 0, "frame duration in seconds (0 or less leaves delays unchanged)")
	out := fs.String("out", "", "output GIF path")
	err := parse(fs, args)
	if err != nil {
		return err
	}
	if *out == "" {
		return usageError("retime requires an output path")
	}
	if fs.NArg() != 1 {
		return usageError("retime requires exactly one input")
	}

	proc, err := c.processor()
	if err != nil {
		return err
	}
	data, err := readGIF(ops.OpRetime, fs.Arg(0))
	if err != nil {
		return err
	}
	b, err := proc.Retime(data, *duration)
	if err != nil {
		return err
	}
	return writeFile(*out, b)
}

func (c *command) serve(args []string) error {
	fs := flags("serve")
	network := fs.String("network", c.cfg.Server.Network, "network to listen on (unix or tcp)")
	addr := fs.String("addr", c.cfg.Server.Addr, "listen address")
	err := parse(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usageError("serve takes no arguments")
	}
	switch *network {
	case "":
		*network = "unix"
	case "unix", "tcp":
	default:
		return usageError(fmt.Sprintf("invalid network: %q", *network))
	}
	mlog := c.log.With(slog.String("component", "gifops.main"))

	runtimeDir, err := xdg.MakeRuntime(rpc.RuntimeDir)
	if err != nil {
		return err
	}
	pidFile := filepath.Join(runtimeDir, "pid")
	fl := flock.New(pidFile)
	ok, err := fl.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("gifops server is already running")
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	proc, err := c.processor()
	if err != nil {
		return err
	}
	srv, err := rpc.NewServer(ctx, *network, *addr, proc, jsonrpc2.NetListenOptions{}, c.log)
	if err != nil {
		return err
	}
	mlog.LogAttrs(ctx, slog.LevelInfo, "listening", slog.String("network", *network), slog.Any("addr", slogext.Stringer{Stringer: srv.Addr()}))

	if c.cfgPath != "" {
		w, err := config.NewWatcher(c.cfgPath, -1, c.log)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "config watcher", slog.Any("error", err))
		} else {
			changes := make(chan config.Change)
			go func() {
				err := w.Watch(ctx, changes)
				if err != nil {
					mlog.LogAttrs(ctx, slog.LevelError, "config watch", slog.Any("error", err))
				}
			}()
			go c.reconfigure(ctx, srv, changes, mlog)
		}
	}

	<-ctx.Done()
	mlog.LogAttrs(context.Background(), slog.LevelInfo, "terminating")
	return srv.Close()
}

// reconfigure applies configuration changes to the logger and server until
// ctx is cancelled. Listening parameters are not changed.
func (c *command) reconfigure(ctx context.Context, srv *rpc.Server, changes <-chan config.Change, log *slog.Logger) {
	for {
		var ch config.Change
		select {
		case <-ctx.Done():
			return
		case ch = <-changes:
		}
		if ch.Err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "config stream error", slog.Any("error", ch.Err))
			continue
		}
		cfg := ch.Config
		proc, err := cfg.Processor(c.log.With(slog.String("component", "ops")))
		if err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "invalid processor config", slog.Any("error", err))
			continue
		}
		if !c.logFlag {
			level := slog.LevelInfo
			if cfg.LogLevel != nil {
				level = *cfg.LogLevel
			}
			c.level.Set(level)
		}
		c.addSource.Store(c.lineFlag || (cfg.AddSource != nil && *cfg.AddSource))
		srv.SetProcessor(proc)
		log.LogAttrs(ctx, slog.LevelInfo, "configured", slog.Any("sum", cfg.Sum))
	}
}

// imageExts is the set of file extensions merge accepts from directories.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// expand returns paths with directories replaced by the image files they
// hold in natural sort order.
func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		if p == "-" {
			files = append(files, p)
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, p)
			continue
		}
		de, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range de {
			if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			names = append(names, e.Name())
		}
		slices.SortFunc(names, func(a, b string) int {
			switch {
			case natural.Less(a, b):
				return -1
			case natural.Less(b, a):
				return 1
			default:
				return 0
			}
		})
		for _, n := range names {
			files = append(files, filepath.Join(p, n))
		}
	}
	return files, nil
}

// readGIF returns the contents of the GIF file at path, failing with a
// decode error for op if it does not hold GIF data.
func readGIF(op, path string) ([]byte, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	rp := animation.AsReadPeeker(r)
	if !animation.IsGIF(rp) {
		return nil, &ops.Error{Op: op, Kind: ops.KindDecode, Err: fmt.Errorf("%s is not a GIF", path)}
	}
	return io.ReadAll(rp)
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeFile(path string, b []byte) error {
	if path == "-" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(b))
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
