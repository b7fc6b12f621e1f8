// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package raster

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/gifops/internal/animation"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
)

var resolveTests = []struct {
	name     string
	frame    *animation.Frame
	fallback color.Palette
	want     []byte
	wantErr  error
}{
	{
		name: "local",
		frame: &animation.Frame{
			Rect:        image.Rect(0, 0, 2, 1),
			Pix:         []byte{0, 1},
			Palette:     color.Palette{red, green},
			Transparent: -1,
		},
		fallback: color.Palette{blue, blue},
		want:     []byte{0xff, 0, 0, 0xff, 0, 0xff, 0, 0xff},
	},
	{
		name: "global",
		frame: &animation.Frame{
			Rect:        image.Rect(0, 0, 1, 2),
			Pix:         []byte{1, 0},
			Transparent: -1,
		},
		fallback: color.Palette{red, blue},
		want:     []byte{0, 0, 0xff, 0xff, 0xff, 0, 0, 0xff},
	},
	{
		name: "transparent",
		frame: &animation.Frame{
			Rect:        image.Rect(0, 0, 2, 1),
			Pix:         []byte{0, 1},
			Transparent: 1,
		},
		fallback: color.Palette{red, blue},
		want:     []byte{0xff, 0, 0, 0xff, 0, 0, 0, 0},
	},
	{
		name: "offset_frame",
		frame: &animation.Frame{
			Rect:        image.Rect(3, 4, 4, 5),
			Pix:         []byte{0},
			Palette:     color.Palette{green},
			Transparent: -1,
		},
		want: []byte{0, 0xff, 0, 0xff},
	},
	{
		name: "no_palette",
		frame: &animation.Frame{
			Rect:        image.Rect(0, 0, 1, 1),
			Pix:         []byte{0},
			Transparent: -1,
		},
		wantErr: ErrConversion,
	},
	{
		name: "short_pix",
		frame: &animation.Frame{
			Rect:        image.Rect(0, 0, 2, 2),
			Pix:         []byte{0},
			Palette:     color.Palette{red},
			Transparent: -1,
		},
		wantErr: ErrConversion,
	},
	{
		name: "index_out_of_range",
		frame: &animation.Frame{
			Rect:        image.Rect(0, 0, 2, 1),
			Pix:         []byte{0, 2},
			Palette:     color.Palette{red, green},
			Transparent: -1,
		},
		wantErr: ErrConversion,
	},
}

func TestResolve(t *testing.T) {
	for _, test := range resolveTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Resolve(test.frame, test.fallback)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			wantRect := image.Rect(0, 0, test.frame.Rect.Dx(), test.frame.Rect.Dy())
			if got.Rect != wantRect {
				t.Errorf("unexpected bounds: got:%v want:%v", got.Rect, wantRect)
			}
			if !cmp.Equal(got.Pix, test.want) {
				t.Errorf("unexpected pixels:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, got.Pix))
			}
		})
	}
}

func TestQuantizeSolid(t *testing.T) {
	want := color.NRGBA{R: 0x20, G: 0x80, B: 0xc0, A: 0xff}
	img := image.NewNRGBA(image.Rect(0, 0, 5, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			img.SetNRGBA(x, y, want)
		}
	}
	for _, dither := range []bool{false, true} {
		pix, pal, transparent := Quantize(img, dither)
		if transparent != -1 {
			t.Errorf("unexpected transparent index for opaque image: %d", transparent)
		}
		if len(pix) != 20 {
			t.Fatalf("unexpected pixel count: got:%d want:20", len(pix))
		}
		if len(pal) == 0 || len(pal) > animation.MaxColors {
			t.Fatalf("unexpected palette length: %d", len(pal))
		}
		got, err := Resolve(&animation.Frame{Rect: img.Rect, Pix: pix, Palette: pal, Transparent: transparent}, nil)
		if err != nil {
			t.Fatalf("unexpected error resolving quantized image: %v", err)
		}
		for i := 0; i < len(got.Pix); i += 4 {
			c := color.NRGBA{R: got.Pix[i], G: got.Pix[i+1], B: got.Pix[i+2], A: got.Pix[i+3]}
			if c != want {
				t.Fatalf("unexpected color at pixel %d with dither=%t: got:%v want:%v", i/4, dither, c, want)
			}
		}
	}
}

func TestQuantizeTransparent(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				img.SetNRGBA(x, y, color.NRGBA{R: 0xff, A: 0xff})
			}
		}
	}
	pix, pal, transparent := Quantize(img, false)
	if transparent < 0 {
		t.Fatal("expected transparent index")
	}
	if transparent != len(pal)-1 {
		t.Errorf("unexpected transparent index: got:%d want:%d", transparent, len(pal)-1)
	}
	if _, _, _, a := pal[transparent].RGBA(); a != 0 {
		t.Errorf("transparent entry is not transparent: %v", pal[transparent])
	}
	for i, idx := range pix {
		x := i % 4
		isTransparent := int(idx) == transparent
		if isTransparent != (x >= 2) {
			t.Errorf("unexpected transparency at (%d,%d): got:%t want:%t", x, i/4, isTransparent, x >= 2)
		}
	}
	for i, c := range pal[:transparent] {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			t.Errorf("palette entry %d is not opaque: %v", i, c)
		}
	}
}

func TestQuantizeIgnoresTransparent(t *testing.T) {
	gray := color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			if (x+y)%2 == 0 {
				img.SetNRGBA(x, y, gray)
			}
		}
	}
	for _, dither := range []bool{false, true} {
		pix, pal, transparent := Quantize(img, dither)
		if transparent < 0 {
			t.Fatalf("expected transparent index with dither=%t", dither)
		}
		for i, c := range pal[:transparent] {
			if got := color.NRGBAModel.Convert(c); got != gray {
				t.Errorf("unexpected palette entry %d with dither=%t: got:%v want:%v", i, dither, got, gray)
			}
		}
		for i, idx := range pix {
			x, y := i%6, i/6
			if (x+y)%2 != 0 {
				if int(idx) != transparent {
					t.Errorf("pixel (%d,%d) not transparent with dither=%t", x, y, dither)
				}
				continue
			}
			if got := color.NRGBAModel.Convert(pal[idx]); got != gray {
				t.Errorf("unexpected color at (%d,%d) with dither=%t: got:%v want:%v", x, y, dither, got, gray)
			}
		}
	}
}

func TestQuantizeAllTransparent(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	pix, pal, transparent := Quantize(img, true)
	if transparent != len(pal)-1 {
		t.Fatalf("unexpected transparent index: got:%d want:%d", transparent, len(pal)-1)
	}
	for i, idx := range pix {
		if int(idx) != transparent {
			t.Errorf("pixel %d not transparent: %d", i, idx)
		}
	}
}

func TestQuantizeManyColors(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(4 * x), G: uint8(4 * y), B: uint8(2 * (x + y)), A: 0xff})
		}
	}
	pix, pal, _ := Quantize(img, true)
	if len(pal) > animation.MaxColors {
		t.Errorf("palette too large: %d", len(pal))
	}
	for i, idx := range pix {
		if int(idx) >= len(pal) {
			t.Fatalf("pixel %d index %d outside palette of %d colors", i, idx, len(pal))
		}
	}
}
