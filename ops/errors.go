// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ops

import (
	"errors"
	"fmt"

	"github.com/kortschak/gifops/internal/animation"
	"github.com/kortschak/gifops/internal/canvas"
	"github.com/kortschak/gifops/internal/raster"
)

// Kind is the category of an operation failure.
type Kind int

// Failure kinds.
const (
	KindDecode            Kind = iota + 1 // input could not be decoded
	KindAnimationTooShort                 // input had fewer than two frames
	KindEmptyInput                        // merge had no images
	KindConversion                        // pixel data could not be resolved
	KindEncode                            // output could not be encoded
)

var kindNames = [...]string{
	KindDecode:            "decode",
	KindAnimationTooShort: "animation_too_short",
	KindEmptyInput:        "empty_input",
	KindConversion:        "conversion",
	KindEncode:            "encode",
}

func (k Kind) String() string {
	if k <= 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	if k <= 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("invalid kind: %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for i, n := range kindNames {
		if i != 0 && n == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("invalid kind: %q", text)
}

// Sentinel errors for each Kind. An *Error matches the sentinel for its
// Kind with errors.Is.
var (
	ErrDecode            = &Error{Kind: KindDecode}
	ErrAnimationTooShort = &Error{Kind: KindAnimationTooShort}
	ErrEmptyInput        = &Error{Kind: KindEmptyInput}
	ErrConversion        = &Error{Kind: KindConversion}
	ErrEncode            = &Error{Kind: KindEncode}
)

// Error is an operation failure.
type Error struct {
	Op   string // operation name
	Kind Kind
	Err  error // underlying error, may be nil
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Kind == KindAnimationTooShort && e.Err == nil:
		msg = "animation must have more than one frame"
	case e.Kind == KindEmptyInput && e.Err == nil:
		msg = "no input images"
	case e.Err == nil:
		msg = e.Kind.String()
	default:
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is returns whether target is an *Error with the same Kind and, if
// target has an Op, the same Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the Kind of the first *Error in err's chain, or zero
// if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// wrap returns err as an *Error for op, categorized by the sentinel it
// wraps. Errors that already hold an *Error keep its kind and their
// context, and are given op if the *Error has none. Unrecognized errors
// are categorized as def.
func wrap(op string, def Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		if err == error(e) {
			return &Error{Op: op, Kind: e.Kind, Err: e.Err}
		}
		return &Error{Op: op, Kind: e.Kind, Err: err}
	}
	kind := def
	switch {
	case errors.Is(err, animation.ErrDecode), errors.Is(err, canvas.ErrDecode):
		kind = KindDecode
	case errors.Is(err, raster.ErrConversion), errors.Is(err, canvas.ErrFilter):
		kind = KindConversion
	case errors.Is(err, animation.ErrEncode), errors.Is(err, errFormat):
		kind = KindEncode
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
