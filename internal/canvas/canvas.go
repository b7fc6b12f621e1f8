// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package canvas decodes still images of arbitrary format and resamples
// them onto a common canvas.
package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

var (
	// ErrDecode is wrapped by errors returned by Decode.
	ErrDecode = errors.New("image decode")

	// ErrFilter is wrapped by errors returned by ParseFilter.
	ErrFilter = errors.New("unknown filter")
)

// Decode returns the still image held in data. Any registered image
// format is accepted; for animated formats the first frame is returned.
// EXIF orientation is applied to JPEG and TIFF images.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrDecode)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image %v", ErrDecode, b)
	}
	return img, nil
}

// Size returns the width and height of img.
func Size(img image.Image) (width, height int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

// Normalize returns img resampled to exactly width×height using the
// provided filter. An image already at the target size is copied without
// resampling. The returned image has its origin at (0, 0).
func Normalize(img image.Image, width, height int, filter Filter) *image.NRGBA {
	if w, h := Size(img); w == width && h == height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, height, filter.resample())
}

// Filter is a named resampling filter.
type Filter string

// Resampling filters. The zero Filter is Lanczos.
const (
	Lanczos    Filter = "lanczos"
	CatmullRom Filter = "catmullrom"
	Mitchell   Filter = "mitchell"
	Box        Filter = "box"
	Linear     Filter = "linear"
	Nearest    Filter = "nearest"
)

var filters = map[Filter]imaging.ResampleFilter{
	Lanczos:    imaging.Lanczos,
	CatmullRom: imaging.CatmullRom,
	Mitchell:   imaging.MitchellNetravali,
	Box:        imaging.Box,
	Linear:     imaging.Linear,
	Nearest:    imaging.NearestNeighbor,
}

// Filters returns the names of the available filters in sorted order.
func Filters() []string {
	names := make([]string, 0, len(filters))
	for f := range filters {
		names = append(names, string(f))
	}
	slices.Sort(names)
	return names
}

// ParseFilter returns the filter with the provided name. Names are case
// insensitive and the empty name is Lanczos.
func ParseFilter(name string) (Filter, error) {
	if name == "" {
		return Lanczos, nil
	}
	f := Filter(strings.ToLower(name))
	if _, ok := filters[f]; !ok {
		return "", fmt.Errorf("%w: %q (valid filters: %s)", ErrFilter, name, strings.Join(Filters(), ", "))
	}
	return f, nil
}

func (f Filter) resample() imaging.ResampleFilter {
	r, ok := filters[f]
	if !ok {
		return imaging.Lanczos
	}
	return r
}
