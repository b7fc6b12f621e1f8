// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides the in-memory GIF animation model and
// conversion between the model and the GIF container format.
package animation

import (
	"errors"
	"image"
	"image/color"
	"math"
	"slices"
)

var (
	// ErrDecode is wrapped by all errors returned by Decode.
	ErrDecode = errors.New("gif decode")
	// ErrEncode is wrapped by all errors returned by Encode.
	ErrEncode = errors.New("gif encode")
)

const (
	// MaxColors is the largest color table a GIF may hold.
	MaxColors = 256

	// MaxDelay is the largest frame delay that can be represented
	// in a graphic control extension.
	MaxDelay = 0xffff

	// MaxDimension is the largest canvas width or height.
	MaxDimension = 0xffff
)

// Sequence is a decoded animation. A Sequence owns its frames.
type Sequence struct {
	// Width and Height are the canvas dimensions.
	Width, Height int

	// Palette is the global color table. It is nil if the
	// animation has no global color table.
	Palette color.Palette

	// BackgroundIndex is the global background color index.
	BackgroundIndex byte

	// LoopCount is the GIF loop count. Zero loops forever,
	// -1 shows each frame once and n loops n+1 times.
	LoopCount int

	Frames []*Frame
}

// Frame is a single indexed frame of a Sequence.
type Frame struct {
	// Rect is the position of the frame on the canvas.
	Rect image.Rectangle

	// Pix holds the frame's color indexes in row-major
	// order with a stride of Rect.Dx().
	Pix []byte

	// Palette is the frame's local color table. It is nil
	// when the frame uses the sequence's global palette.
	// Decode also leaves it nil for a local table that is
	// identical to the global palette, so such a frame is
	// encoded without a local table. Its resolved colors
	// are unchanged.
	Palette color.Palette

	// Transparent is the transparent color index, or -1
	// if the frame has no transparency.
	Transparent int

	// Delay is the frame display time in 100ths of a second.
	Delay int

	// Disposal is the GIF disposal method for the frame.
	Disposal byte
}

// Bounds returns the canvas rectangle of the receiver.
func (s *Sequence) Bounds() image.Rectangle { return image.Rect(0, 0, s.Width, s.Height) }

// Bounds returns the frame's rectangle on the canvas.
func (f *Frame) Bounds() image.Rectangle { return f.Rect }

// Reverse reverses the order of the receiver's frames. Each frame keeps
// its own palette, delay and disposal.
func (s *Sequence) Reverse() {
	slices.Reverse(s.Frames)
}

// SetDelay sets the delay of all frames in the receiver.
func (s *Sequence) SetDelay(delay int) {
	for _, f := range s.Frames {
		f.Delay = delay
	}
}

// Delays returns the frame delays of the receiver in frame order.
func (s *Sequence) Delays() []int {
	d := make([]int, len(s.Frames))
	for i, f := range s.Frames {
		d[i] = f.Delay
	}
	return d
}

// Delay returns the frame delay in 100ths of a second corresponding to
// the provided duration in seconds. The delay is rounded half away from
// zero and clamped to [1, MaxDelay]; zero-length delays are displayed
// as fast as possible by many renderers.
func Delay(seconds float64) int {
	d := math.Round(seconds * 100)
	switch {
	case math.IsNaN(d), d < 1:
		return 1
	case d > MaxDelay:
		return MaxDelay
	}
	return int(d)
}
