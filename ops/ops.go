// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ops implements the GIF frame operations: splitting an animation
// into still images, merging still images into an animation, reversing
// frame order and rewriting frame delays.
//
// All operations work on in-memory buffers. Failures are returned as an
// *Error carrying a Kind that callers can branch on.
package ops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/gif"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/kortschak/gifops/internal/animation"
	"github.com/kortschak/gifops/internal/canvas"
	"github.com/kortschak/gifops/internal/pool"
	"github.com/kortschak/gifops/internal/raster"
)

// Operation names.
const (
	OpSplit   = "split"
	OpMerge   = "merge"
	OpReverse = "reverse"
	OpRetime  = "retime"
)

// DefaultDuration is the frame duration in seconds used by Merge when no
// duration is provided.
const DefaultDuration = 0.05

// Format is a lossless still image format for Split output.
type Format string

// Split output formats. The zero Format is PNG.
const (
	PNG  Format = "png"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

var errFormat = errors.New("unknown format")

var formats = map[Format]imaging.Format{
	PNG:  imaging.PNG,
	BMP:  imaging.BMP,
	TIFF: imaging.TIFF,
}

// ParseFormat returns the format with the provided name. Names are case
// insensitive and the empty name is PNG.
func ParseFormat(name string) (Format, error) {
	if name == "" {
		return PNG, nil
	}
	f := Format(strings.ToLower(name))
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("%w: %q (valid formats: bmp, png, tiff)", errFormat, name)
	}
	return f, nil
}

// Ext returns the file name extension for the format, including the dot.
func (f Format) Ext() string {
	if f == "" {
		f = PNG
	}
	return "." + string(f)
}

func (f Format) imaging() (imaging.Format, error) {
	if f == "" {
		return imaging.PNG, nil
	}
	format, ok := formats[f]
	if !ok {
		return 0, fmt.Errorf("%w: %q", errFormat, string(f))
	}
	return format, nil
}

// Processor performs frame operations. The zero Processor is ready to
// use and writes PNG frames, resamples with a Lanczos filter without
// dithering and uses GOMAXPROCS workers.
type Processor struct {
	// Format is the still image format written by Split.
	Format Format
	// Filter is the resampling filter name used by Merge.
	// Valid names are listed by Filters.
	Filter string
	// Dither specifies whether Merge applies Floyd-Steinberg
	// error diffusion when reducing colors.
	Dither bool
	// Workers is the maximum number of frames processed
	// concurrently. Values less than one use GOMAXPROCS.
	Workers int

	// Log is used for debug logging. If nil, no logging
	// is performed.
	Log *slog.Logger
}

// Filters returns the valid resampling filter names.
func Filters() []string { return canvas.Filters() }

var std Processor

// Split returns the frames of the GIF animation data as PNG images.
func Split(data []byte) ([][]byte, error) { return std.Split(data) }

// Merge returns a GIF animation of the provided still images. If duration
// is nil, DefaultDuration is used.
func Merge(images [][]byte, duration *float64) ([]byte, error) { return std.Merge(images, duration) }

// Reverse returns the GIF animation data with its frames in reverse order.
func Reverse(data []byte) ([]byte, error) { return std.Reverse(data) }

// Retime returns the GIF animation data with every frame delay set to
// duration seconds. A zero duration leaves delays unchanged.
func Retime(data []byte, duration float64) ([]byte, error) { return std.Retime(data, duration) }

// Split returns the frames of the GIF animation data, each encoded as a
// standalone lossless still image in p's format. Each frame is resolved
// through its own palette at its own size. The animation must have more
// than one frame.
func (p *Processor) Split(data []byte) ([][]byte, error) {
	format, err := p.Format.imaging()
	if err != nil {
		return nil, wrap(OpSplit, KindEncode, err)
	}
	s, err := p.decode(OpSplit, data)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, len(s.Frames))
	err = pool.Run(len(s.Frames), p.Workers, func(i int) error {
		img, err := raster.Resolve(s.Frames[i], s.Palette)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		var buf bytes.Buffer
		err = imaging.Encode(&buf, img, format)
		if err != nil {
			return &Error{Op: OpSplit, Kind: KindEncode, Err: fmt.Errorf("frame %d: %w", i, err)}
		}
		frames[i] = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, wrap(OpSplit, KindConversion, err)
	}
	p.debug(OpSplit, "split animation", slog.Int("frames", len(frames)), slog.String("format", format.String()))
	return frames, nil
}

// Merge returns a GIF animation of the provided still images. The first
// image defines the canvas size and every image is resampled to it. Every
// frame is shown for duration seconds, or DefaultDuration if duration is
// nil, with a minimum of one hundredth of a second. Each frame has its
// own palette and the animation loops forever.
func (p *Processor) Merge(images [][]byte, duration *float64) ([]byte, error) {
	if len(images) == 0 {
		return nil, &Error{Op: OpMerge, Kind: KindEmptyInput}
	}
	filter, err := canvas.ParseFilter(p.Filter)
	if err != nil {
		return nil, wrap(OpMerge, KindConversion, err)
	}
	d := DefaultDuration
	if duration != nil {
		d = *duration
	}
	delay := animation.Delay(d)

	first, err := canvas.Decode(images[0])
	if err != nil {
		return nil, wrap(OpMerge, KindDecode, fmt.Errorf("image 0: %w", err))
	}
	width, height := canvas.Size(first)
	if width > animation.MaxDimension || height > animation.MaxDimension {
		return nil, &Error{Op: OpMerge, Kind: KindEncode, Err: fmt.Errorf("canvas %dx%d too large", width, height)}
	}

	s := &animation.Sequence{
		Width:  width,
		Height: height,
		Frames: make([]*animation.Frame, len(images)),
	}
	err = pool.Run(len(images), p.Workers, func(i int) error {
		img := first
		if i != 0 {
			var err error
			img, err = canvas.Decode(images[i])
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
		}
		pix, pal, transparent := raster.Quantize(canvas.Normalize(img, width, height, filter), p.Dither)
		s.Frames[i] = &animation.Frame{
			Rect:        s.Bounds(),
			Pix:         pix,
			Palette:     pal,
			Transparent: transparent,
			Delay:       delay,
			Disposal:    gif.DisposalNone,
		}
		return nil
	})
	if err != nil {
		return nil, wrap(OpMerge, KindConversion, err)
	}

	b, err := animation.Encode(s)
	if err != nil {
		return nil, wrap(OpMerge, KindEncode, err)
	}
	p.debug(OpMerge, "merged images", slog.Int("frames", len(s.Frames)), slog.Int("width", width), slog.Int("height", height), slog.Int("delay", delay))
	return b, nil
}

// Reverse returns the GIF animation data with its frames in reverse order.
// Each frame keeps its palette, delay and disposal. The global palette and
// canvas are kept and the animation loops forever. The animation must have
// more than one frame.
func (p *Processor) Reverse(data []byte) ([]byte, error) {
	s, err := p.decode(OpReverse, data)
	if err != nil {
		return nil, err
	}
	s.Reverse()
	return p.encode(OpReverse, s)
}

// Retime returns the GIF animation data with every frame delay set to
// duration seconds, with a minimum of one hundredth of a second. If
// duration is not positive, frame delays are left unchanged. Frame order, pixels
// and palettes are not altered and the animation loops forever. The
// animation must have more than one frame.
func (p *Processor) Retime(data []byte, duration float64) ([]byte, error) {
	s, err := p.decode(OpRetime, data)
	if err != nil {
		return nil, err
	}
	if duration > 0 {
		s.SetDelay(animation.Delay(duration))
	}
	return p.encode(OpRetime, s)
}

// decode decodes an animation, requiring that it has more than one frame.
func (p *Processor) decode(op string, data []byte) (*animation.Sequence, error) {
	s, err := animation.Decode(data)
	if err != nil {
		return nil, wrap(op, KindDecode, err)
	}
	if len(s.Frames) <= 1 {
		return nil, &Error{Op: op, Kind: KindAnimationTooShort, Err: fmt.Errorf("animation must have more than one frame: found %d", len(s.Frames))}
	}
	p.debug(op, "decoded animation", slog.Int("frames", len(s.Frames)), slog.Int("width", s.Width), slog.Int("height", s.Height), slog.Bool("global_palette", s.Palette != nil))
	return s, nil
}

// encode encodes s as a forever looping animation.
func (p *Processor) encode(op string, s *animation.Sequence) ([]byte, error) {
	s.LoopCount = 0
	b, err := animation.Encode(s)
	if err != nil {
		return nil, wrap(op, KindEncode, err)
	}
	p.debug(op, "encoded animation", slog.Int("frames", len(s.Frames)), slog.Int("bytes", len(b)))
	return b, nil
}

func (p *Processor) debug(op, msg string, attrs ...slog.Attr) {
	if p.Log == nil {
		return
	}
	p.Log.LogAttrs(context.Background(), slog.LevelDebug, msg, append([]slog.Attr{slog.String("op", op)}, attrs...)...)
}
