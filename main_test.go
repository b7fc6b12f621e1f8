// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/rogpeppe/go-internal/testscript"

	"github.com/kortschak/gifops/rpc"
)

var (
	update = flag.Bool("update", false, "update tests")
	keep   = flag.Bool("keep", false, "keep $WORK directory after tests")
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"gifops": Main,
	}))
}

func TestScripts(t *testing.T) {
	t.Parallel()

	p := testscript.Params{
		Dir:           filepath.Join("testdata"),
		UpdateScripts: *update,
		TestWork:      *keep,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkgif":   mkgif,
			"mkimg":   mkimg,
			"gifinfo": gifinfo,
			"imginfo": imginfo,
			"rpc":     rpcCall,
			"sleep":   sleep,
		},
	}
	testscript.Run(t, p)
}

func sleep(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! sleep")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: sleep duration")
	}
	d, err := time.ParseDuration(args[0])
	ts.Check(err)
	time.Sleep(d)
}

var palette = color.Palette{
	color.RGBA{R: 0xff, A: 0xff},
	color.RGBA{G: 0xff, A: 0xff},
	color.RGBA{B: 0xff, A: 0xff},
	color.RGBA{A: 0xff},
}

var colors = map[string]color.Color{
	"red":   color.RGBA{R: 0xff, A: 0xff},
	"green": color.RGBA{G: 0xff, A: 0xff},
	"blue":  color.RGBA{B: 0xff, A: 0xff},
	"black": color.RGBA{A: 0xff},
	"white": color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
}

// mkgif writes a GIF animation with one distinct frame per delay.
//
//	mkgif <width>x<height> <path> [delay...]
func mkgif(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkgif")
	}
	if len(args) < 2 {
		ts.Fatalf("usage: mkgif <width>x<height> <path> [delay...]")
	}
	w, h := size(ts, args[0])
	g := &gif.GIF{
		Config: image.Config{ColorModel: palette, Width: w, Height: h},
	}
	for i, arg := range args[2:] {
		d, err := strconv.Atoi(arg)
		ts.Check(err)
		m := image.NewPaletted(image.Rect(0, 0, w, h), palette)
		for j := range m.Pix {
			m.Pix[j] = uint8((j + i) % len(palette))
		}
		g.Image = append(g.Image, m)
		g.Delay = append(g.Delay, d)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}
	var buf bytes.Buffer
	if len(g.Image) == 0 {
		// gif.EncodeAll refuses to write an empty animation.
		buf.WriteString("GIF89a")
		buf.Write([]byte{byte(w), byte(w >> 8), byte(h), byte(h >> 8), 0, 0, 0})
		buf.WriteByte(0x3b)
	} else {
		ts.Check(gif.EncodeAll(&buf, g))
	}
	ts.Check(os.WriteFile(ts.MkAbs(args[1]), buf.Bytes(), 0o644))
}

// mkimg writes a still image filled with a named color, encoded
// according to the path's extension.
//
//	mkimg <width>x<height> <color> <path>
func mkimg(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkimg")
	}
	if len(args) != 3 {
		ts.Fatalf("usage: mkimg <width>x<height> <color> <path>")
	}
	w, h := size(ts, args[0])
	c, ok := colors[args[1]]
	if !ok {
		ts.Fatalf("unknown color: %s", args[1])
	}
	img := imaging.New(w, h, c)
	path := ts.MkAbs(args[2])
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		var buf bytes.Buffer
		ts.Check(png.Encode(&buf, img))
		ts.Check(os.WriteFile(path, buf.Bytes(), 0o644))
	default:
		ts.Check(imaging.Save(img, path))
	}
}

// gifinfo prints the frame count, canvas size, delays and loop count
// of a GIF animation.
//
//	gifinfo <path>
func gifinfo(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! gifinfo")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: gifinfo <path>")
	}
	b, err := os.ReadFile(ts.MkAbs(args[0]))
	ts.Check(err)
	g, err := gif.DecodeAll(bytes.NewReader(b))
	ts.Check(err)
	delays := make([]string, len(g.Delay))
	for i, d := range g.Delay {
		delays[i] = strconv.Itoa(d)
	}
	fmt.Fprintf(ts.Stdout(), "frames=%d size=%dx%d delays=%s loop=%d\n",
		len(g.Image), g.Config.Width, g.Config.Height, strings.Join(delays, ","), g.LoopCount)
}

// imginfo prints the format and size of a still image.
//
//	imginfo <path>
func imginfo(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! imginfo")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: imginfo <path>")
	}
	f, err := os.Open(ts.MkAbs(args[0]))
	ts.Check(err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	ts.Check(err)
	fmt.Fprintf(ts.Stdout(), "format=%s size=%dx%d\n", format, cfg.Width, cfg.Height)
}

// rpcCall makes a call to a running gifops server, retrying the
// connection until the server is available.
//
//	rpc <network> <addr> who
//	rpc <network> <addr> reverse <in> <out>
func rpcCall(ts *testscript.TestScript, neg bool, args []string) {
	if len(args) < 3 {
		ts.Fatalf("usage: rpc <network> <addr> <method> [args...]")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := args[1]
	if args[0] == "unix" {
		addr = ts.MkAbs(addr)
	}
	var (
		c   *rpc.Client
		err error
	)
	for {
		c, err = rpc.Dial(ctx, args[0], addr, net.Dialer{})
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			ts.Fatalf("failed to dial server: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer c.Close()

	switch method := args[2]; method {
	case "who":
		var v string
		v, err = c.Who(ctx)
		if err == nil {
			fmt.Fprintln(ts.Stdout(), "version:", v)
		}
	case "reverse":
		if len(args) != 5 {
			ts.Fatalf("usage: rpc <network> <addr> reverse <in> <out>")
		}
		var in, out []byte
		in, err = os.ReadFile(ts.MkAbs(args[3]))
		ts.Check(err)
		out, err = c.Reverse(ctx, in)
		if err == nil {
			ts.Check(os.WriteFile(ts.MkAbs(args[4]), out, 0o644))
		}
	default:
		ts.Fatalf("unknown method: %s", method)
	}
	if neg {
		if err == nil {
			ts.Fatalf("unexpected success")
		}
		fmt.Fprintln(ts.Stderr(), err)
		return
	}
	ts.Check(err)
}

func size(ts *testscript.TestScript, arg string) (w, h int) {
	ws, hs, ok := strings.Cut(arg, "x")
	if !ok {
		ts.Fatalf("invalid size: %s", arg)
	}
	w, err := strconv.Atoi(ws)
	ts.Check(err)
	h, err = strconv.Atoi(hs)
	ts.Check(err)
	return w, h
}

var expandTests = []struct {
	name  string
	files []string
	args  []string
	want  []string
}{
	{
		name:  "files",
		files: []string{"b.png", "a.png"},
		args:  []string{"b.png", "a.png"},
		want:  []string{"b.png", "a.png"},
	},
	{
		name:  "natural_order",
		files: []string{"dir/frame_10.png", "dir/frame_2.png", "dir/frame_1.PNG", "dir/notes.txt", "dir/sub/frame_0.png"},
		args:  []string{"dir"},
		want:  []string{"dir/frame_1.PNG", "dir/frame_2.png", "dir/frame_10.png"},
	},
	{
		name:  "mixed",
		files: []string{"first.jpg", "dir/b.gif", "dir/a.bmp"},
		args:  []string{"first.jpg", "dir", "-"},
		want:  []string{"first.jpg", "dir/a.bmp", "dir/b.gif", "-"},
	},
}

func TestExpand(t *testing.T) {
	for _, test := range expandTests {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range test.files {
				path := filepath.Join(dir, filepath.FromSlash(f))
				err := os.MkdirAll(filepath.Dir(path), 0o755)
				if err != nil {
					t.Fatalf("unexpected error making directory: %v", err)
				}
				err = os.WriteFile(path, nil, 0o644)
				if err != nil {
					t.Fatalf("unexpected error writing file: %v", err)
				}
			}
			args := make([]string, len(test.args))
			for i, a := range test.args {
				if a == "-" {
					args[i] = a
					continue
				}
				args[i] = filepath.Join(dir, filepath.FromSlash(a))
			}
			got, err := expand(args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, p := range got {
				if p == "-" {
					continue
				}
				rel, err := filepath.Rel(dir, p)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				got[i] = filepath.ToSlash(rel)
			}
			if !cmp.Equal(test.want, got) {
				t.Errorf("unexpected expansion:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, got))
			}
		})
	}
}

func TestExpandMissing(t *testing.T) {
	_, err := expand([]string{filepath.Join(t.TempDir(), "missing.png")})
	if err == nil {
		t.Error("expected error for missing input")
	}
}

func TestImageExts(t *testing.T) {
	var got []string
	for ext := range imageExts {
		got = append(got, ext)
	}
	slices.Sort(got)
	want := []string{".bmp", ".gif", ".jpeg", ".jpg", ".png", ".tif", ".tiff", ".webp"}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected extensions:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}
