// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"slices"
	"strings"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// Decode returns the Sequence held in the provided GIF data. Errors
// returned by Decode wrap ErrDecode.
//
// A frame is given a local palette only when its color table differs from
// the global color table. A well-formed GIF with a header but no image
// data is returned as a Sequence without frames.
func Decode(data []byte) (*Sequence, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		if isMissingImageData(err) {
			cfg, cerr := gif.DecodeConfig(bytes.NewReader(data))
			if cerr == nil {
				global, _ := cfg.ColorModel.(color.Palette)
				return &Sequence{Width: cfg.Width, Height: cfg.Height, Palette: global}, nil
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("%w: mismatched image count and delay count: %d != %d", ErrDecode, len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("%w: mismatched image count and disposal count: %d != %d", ErrDecode, len(g.Image), len(g.Disposal))
	}

	global, _ := g.Config.ColorModel.(color.Palette)
	s := &Sequence{
		Width:           g.Config.Width,
		Height:          g.Config.Height,
		Palette:         global,
		BackgroundIndex: g.BackgroundIndex,
		LoopCount:       g.LoopCount,
		Frames:          make([]*Frame, len(g.Image)),
	}
	for i, m := range g.Image {
		f, err := frameFrom(m, global)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %w", ErrDecode, i, err)
		}
		if g.Delay != nil {
			f.Delay = g.Delay[i]
		}
		if g.Disposal != nil {
			f.Disposal = g.Disposal[i]
		}
		s.Frames[i] = f
	}
	return s, nil
}

// isMissingImageData returns whether err is the image/gif error for a
// stream that terminates before any image block. image/gif does not
// export this error, so it is matched on its text, "gif: missing image
// data".
func isMissingImageData(err error) bool {
	return strings.HasSuffix(err.Error(), "missing image data")
}

// frameFrom returns the Frame corresponding to a decoded image.
func frameFrom(m *image.Paletted, global color.Palette) (*Frame, error) {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	if len(m.Pix) != w*h || (h != 0 && m.Stride != w) {
		return nil, fmt.Errorf("pixel count %d does not match %dx%d", len(m.Pix), w, h)
	}
	transparent := -1
	for i, c := range m.Palette {
		if _, _, _, a := c.RGBA(); a == 0 {
			transparent = i
			break
		}
	}
	f := &Frame{
		Rect:        m.Rect,
		Pix:         m.Pix,
		Transparent: transparent,
	}
	if !usesGlobal(m.Palette, global, transparent) {
		f.Palette = m.Palette
	}
	return f, nil
}

// usesGlobal returns whether pal is the global palette. The decoder
// replaces the transparent entry of a frame's copy of the global palette,
// so that entry is not compared.
func usesGlobal(pal, global color.Palette, transparent int) bool {
	if global == nil || len(pal) != len(global) {
		return false
	}
	for i, c := range pal {
		if i == transparent {
			continue
		}
		r1, g1, b1, a1 := c.RGBA()
		r2, g2, b2, a2 := global[i].RGBA()
		if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
			return false
		}
	}
	return true
}

// Encode returns the GIF encoding of s. Errors returned by Encode wrap
// ErrEncode.
func Encode(s *Sequence) ([]byte, error) {
	if len(s.Frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrEncode)
	}
	if s.Width <= 0 || s.Height <= 0 || s.Width > MaxDimension || s.Height > MaxDimension {
		return nil, fmt.Errorf("%w: invalid canvas size %dx%d", ErrEncode, s.Width, s.Height)
	}
	g := &gif.GIF{
		Image:           make([]*image.Paletted, len(s.Frames)),
		Delay:           make([]int, len(s.Frames)),
		Disposal:        make([]byte, len(s.Frames)),
		LoopCount:       s.LoopCount,
		BackgroundIndex: s.BackgroundIndex,
		Config: image.Config{
			Width:  s.Width,
			Height: s.Height,
		},
	}
	if s.Palette != nil {
		err := checkPalette(s.Palette)
		if err != nil {
			return nil, fmt.Errorf("%w: global palette: %w", ErrEncode, err)
		}
		g.Config.ColorModel = s.Palette
	}
	canvas := s.Bounds()
	for i, f := range s.Frames {
		m, err := f.paletted(s.Palette)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %w", ErrEncode, i, err)
		}
		if !m.Rect.In(canvas) {
			return nil, fmt.Errorf("%w: frame %d: bounds %v outside canvas %v", ErrEncode, i, m.Rect, canvas)
		}
		if f.Delay < 0 || f.Delay > MaxDelay {
			return nil, fmt.Errorf("%w: frame %d: delay out of range: %d", ErrEncode, i, f.Delay)
		}
		g.Image[i] = m
		g.Delay[i] = f.Delay
		g.Disposal[i] = f.Disposal
	}

	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, g)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// paletted returns an image.Paletted for the frame suitable for encoding
// with image/gif, using global if the frame has no local palette.
func (f *Frame) paletted(global color.Palette) (*image.Paletted, error) {
	w, h := f.Rect.Dx(), f.Rect.Dy()
	if len(f.Pix) != w*h {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%d", len(f.Pix), w, h)
	}
	pal := f.Palette
	if pal == nil {
		if global == nil {
			return nil, errors.New("no color table")
		}
		pal = global
	}
	err := checkPalette(pal)
	if err != nil {
		return nil, err
	}
	if f.Transparent >= 0 {
		if f.Transparent >= len(pal) {
			return nil, fmt.Errorf("transparent index %d not in palette of %d colors", f.Transparent, len(pal))
		}
		// Keep the table's RGB values so that an unaltered global
		// table is recognised by the encoder and no local table is
		// written. A zero alpha marks the transparent index.
		pal = slices.Clone(pal)
		r, g, b, _ := pal[f.Transparent].RGBA()
		pal[f.Transparent] = color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
	}
	return &image.Paletted{Pix: f.Pix, Stride: w, Rect: f.Rect, Palette: pal}, nil
}

func checkPalette(pal color.Palette) error {
	switch {
	case len(pal) == 0:
		return errors.New("empty palette")
	case len(pal) > MaxColors:
		return fmt.Errorf("palette has %d colors, more than %d", len(pal), MaxColors)
	}
	return nil
}
