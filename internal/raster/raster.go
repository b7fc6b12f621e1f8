// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package raster converts between indexed animation frames and
// full-color rasters.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"

	"github.com/ericpauley/go-quantize/quantize"
	"golang.org/x/image/draw"

	"github.com/kortschak/gifops/internal/animation"
)

// ErrConversion is wrapped by all errors returned by Resolve.
var ErrConversion = errors.New("pixel conversion")

// Resolve returns the RGBA raster for f, using the frame's local palette
// if present, otherwise fallback. The transparent index, if any, resolves
// to fully transparent black. The returned image has its origin at (0, 0)
// and the dimensions of the frame.
func Resolve(f *animation.Frame, fallback color.Palette) (*image.RGBA, error) {
	w, h := f.Rect.Dx(), f.Rect.Dy()
	if len(f.Pix) != w*h {
		return nil, fmt.Errorf("%w: pixel count %d does not match %dx%d", ErrConversion, len(f.Pix), w, h)
	}
	pal := f.Palette
	if pal == nil {
		pal = fallback
	}
	if len(pal) == 0 {
		return nil, fmt.Errorf("%w: no palette", ErrConversion)
	}

	lut := make([]color.RGBA, len(pal))
	for i, c := range pal {
		if i == f.Transparent {
			continue
		}
		lut[i] = color.RGBAModel.Convert(c).(color.RGBA)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if len(dst.Pix) != w*h*4 {
		return nil, fmt.Errorf("%w: raster size %d does not match %dx%dx4", ErrConversion, len(dst.Pix), w, h)
	}
	for i, idx := range f.Pix {
		if int(idx) >= len(lut) {
			return nil, fmt.Errorf("%w: color index %d not in palette of %d colors at (%d,%d)",
				ErrConversion, idx, len(lut), i%w, i/w)
		}
		c := lut[idx]
		p := dst.Pix[4*i : 4*i+4 : 4*i+4]
		p[0] = c.R
		p[1] = c.G
		p[2] = c.B
		p[3] = c.A
	}
	return dst, nil
}

// Quantize reduces img to at most animation.MaxColors colors using median
// cut quantization and returns the color indexes of each pixel in row-major
// order, the palette and the transparent index. If img has any fully
// transparent pixel, the last palette entry is reserved for transparency
// and its index is returned, otherwise the transparent index is -1. If
// dither is true, pixels are mapped to the palette with Floyd-Steinberg
// error diffusion, otherwise the nearest palette color is used.
func Quantize(img *image.NRGBA, dither bool) (pix []byte, pal color.Palette, transparent int) {
	b := img.Bounds()
	hasTransparent := hasTransparency(img)

	n := animation.MaxColors
	if hasTransparent {
		n--
	}
	src := image.Image(img)
	if hasTransparent {
		src = opaquePixels(img)
	}
	if !src.Bounds().Empty() {
		q := quantize.MedianCutQuantizer{Aggregation: quantize.Mean}
		pal = q.Quantize(make(color.Palette, 0, n), src)
	}
	if len(pal) > n {
		pal = pal[:n]
	}
	for i, c := range pal {
		// Palette entries other than the reserved transparent
		// entry are opaque.
		nc := color.NRGBAModel.Convert(c).(color.NRGBA)
		pal[i] = color.RGBA{R: nc.R, G: nc.G, B: nc.B, A: 0xff}
	}
	if len(pal) == 0 {
		pal = append(pal, color.RGBA{A: 0xff})
	}

	// Map against the opaque colors only so that no opaque pixel
	// can be assigned the transparent entry.
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), pal)
	var drawer draw.Drawer = draw.Src
	if dither {
		drawer = draw.FloydSteinberg
	}
	src = img
	if hasTransparent {
		src = fillTransparent(img, pal[0])
	}
	drawer.Draw(dst, dst.Bounds(), src, b.Min)

	transparent = -1
	if hasTransparent {
		transparent = len(pal)
		pal = append(pal, color.RGBA{})
		for y := 0; y < b.Dy(); y++ {
			row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < b.Dx(); x++ {
				if row[4*x+3] == 0 {
					dst.Pix[y*dst.Stride+x] = uint8(transparent)
				}
			}
		}
	}
	return dst.Pix, pal, transparent
}

// hasTransparency returns whether img has any fully transparent pixel.
// opaquePixels returns a single row image holding the pixels of img
// that are not fully transparent.
func opaquePixels(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	var pix []byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if row[4*x+3] != 0 {
				pix = append(pix, row[4*x:4*x+4]...)
			}
		}
	}
	n := len(pix) / 4
	return &image.NRGBA{Pix: pix, Stride: 4 * n, Rect: image.Rect(0, 0, n, 1)}
}

// fillTransparent returns a copy of img with its fully transparent
// pixels replaced by c. When c is a palette color, the replaced pixels
// carry no quantization error into their neighbors.
func fillTransparent(img *image.NRGBA, c color.Color) *image.NRGBA {
	nc := color.NRGBAModel.Convert(c).(color.NRGBA)
	dst := &image.NRGBA{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := dst.Pix[dst.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if row[4*x+3] == 0 {
				row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = nc.R, nc.G, nc.B, nc.A
			}
		}
	}
	return dst
}

func hasTransparency(img *image.NRGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if row[4*x+3] == 0 {
				return true
			}
		}
	}
	return false
}
