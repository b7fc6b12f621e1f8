// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc provides a JSON RPC 2 service for GIF frame operations.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/gifops/ops"
)

// Service methods. Byte buffers are base64 encoded in JSON.
const (
	Who     = "who"     // call None → WhoResult
	Split   = "split"   // call SplitParams → SplitResult
	Merge   = "merge"   // call MergeParams → AnimationResult
	Reverse = "reverse" // call ReverseParams → AnimationResult
	Retime  = "retime"  // call RetimeParams → AnimationResult
)

// JSON RPC error codes.
const (
	ErrCodeInvalidMessage = 1 // an RPC message is invalid
	// Invalid message sub-codes:
	ErrCodeMessageSyntax       = 11 // syntax
	ErrCodeMessageUnknownField = 12 // unknown field
	ErrCodeShortMessage        = 13 // truncation
	ErrCodeMessageType         = 14 // type mismatch
	ErrCodeMethod              = 15 // method mismatch
	ErrCodeParameters          = 16 // invalid parameters

	ErrCodeOperation = 2 // an operation failed
	// Operation failure codes by ops.Kind:
	ErrCodeDecode            = 21 // ops.KindDecode
	ErrCodeAnimationTooShort = 22 // ops.KindAnimationTooShort
	ErrCodeEmptyInput        = 23 // ops.KindEmptyInput
	ErrCodeConversion        = 24 // ops.KindConversion
	ErrCodeEncode            = 25 // ops.KindEncode

	ErrCodeInternal = 4 // an internal error happened
)

// None is an empty parameter or response slot.
type None struct{}

// WhoResult is the response to a who call.
type WhoResult struct {
	Version string `json:"version"`
}

// SplitParams are the parameters of a split call. Format is the still
// image format of the frames and defaults to the server's configured
// format.
type SplitParams struct {
	Animation []byte `json:"animation"`
	Format    string `json:"format,omitempty"`
}

// SplitResult is the response to a split call.
type SplitResult struct {
	Frames [][]byte `json:"frames"`
}

// MergeParams are the parameters of a merge call. Duration is the frame
// duration in seconds; if it is nil ops.DefaultDuration is used. Filter
// and Dither override the server's configuration when set.
type MergeParams struct {
	Images   [][]byte `json:"images"`
	Duration *float64 `json:"duration,omitempty"`
	Filter   string   `json:"filter,omitempty"`
	Dither   *bool    `json:"dither,omitempty"`
}

// ReverseParams are the parameters of a reverse call.
type ReverseParams struct {
	Animation []byte `json:"animation"`
}

// RetimeParams are the parameters of a retime call. A Duration that
// is not positive leaves frame delays unchanged.
type RetimeParams struct {
	Animation []byte  `json:"animation"`
	Duration  float64 `json:"duration"`
}

// AnimationResult is the response to merge, reverse and retime calls.
type AnimationResult struct {
	Animation []byte `json:"animation"`
}

// UnmarshalParams is a strict equivalent of [json.Unmarshal].
func UnmarshalParams[T any](data []byte, v *T) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: err.Error(),
			Data:    encodeErrData(err, data),
		}
	}
	if dec.More() {
		off := dec.InputOffset()
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: fmt.Sprintf("invalid character "+quoteChar(data[off])+" after top-level value at offset %d", off),
			Data:    encodeErrData(&json.SyntaxError{Offset: off}, data),
		}
	}
	return nil
}

// maxErrData is the maximum length of message data echoed in an
// invalid message error.
const maxErrData = 1 << 10

// encodeErrData return the JSON encoding for an error's extra data.
func encodeErrData(err error, data []byte) json.RawMessage {
	type extra struct {
		Type    int    `json:"type,omitempty"`
		Offset  int64  `json:"offset,omitempty"`
		Message []byte `json:"msg"`
	}
	e := extra{
		Message: data[:min(len(data), maxErrData)],
	}
	switch err := err.(type) {
	case nil:
		return nil
	case *json.SyntaxError:
		e.Type = ErrCodeMessageSyntax
		e.Offset = err.Offset
	case *json.UnmarshalTypeError:
		e.Type = ErrCodeMessageType
		e.Offset = err.Offset
	default:
		switch {
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			e.Type = ErrCodeShortMessage
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			e.Type = ErrCodeMessageUnknownField
		}
	}
	return wireErrorData(e)
}

// NewError returns an error that will be encoded correctly in the RPC protocol.
func NewError(code int64, message string, data any) error {
	e := &jsonrpc2.WireError{
		Code:    code,
		Message: message,
	}
	e.Data = wireErrorData(data)
	return e
}

// OperationError is the data of an operation failure wire error.
type OperationError struct {
	Op   string   `json:"op,omitempty"`
	Kind ops.Kind `json:"kind"`
}

var kindCodes = map[ops.Kind]int64{
	ops.KindDecode:            ErrCodeDecode,
	ops.KindAnimationTooShort: ErrCodeAnimationTooShort,
	ops.KindEmptyInput:        ErrCodeEmptyInput,
	ops.KindConversion:        ErrCodeConversion,
	ops.KindEncode:            ErrCodeEncode,
}

// wireError returns err as a wire error. An *ops.Error is given the code
// for its kind and its op and kind are recorded in the error data.
func wireError(err error) error {
	if err == nil {
		return nil
	}
	var we *jsonrpc2.WireError
	if errors.As(err, &we) {
		return we
	}
	var oe *ops.Error
	if !errors.As(err, &oe) {
		return NewError(ErrCodeInternal, err.Error(), nil)
	}
	code, ok := kindCodes[oe.Kind]
	if !ok {
		code = ErrCodeOperation
	}
	// The op is carried in the data.
	msg := (&ops.Error{Kind: oe.Kind, Err: oe.Err}).Error()
	return NewError(code, msg, OperationError{Op: oe.Op, Kind: oe.Kind})
}

// opsError returns the *ops.Error held by a wire error returned from an
// operation call. Other errors are returned unaltered.
func opsError(err error) error {
	var we *jsonrpc2.WireError
	if !errors.As(err, &we) {
		return err
	}
	var data OperationError
	if json.Unmarshal(we.Data, &data) != nil || data.Kind == 0 {
		return err
	}
	return &ops.Error{Op: data.Op, Kind: data.Kind, Err: errors.New(we.Message)}
}

func wireErrorData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	var buf bytes.Buffer
	dec := json.NewEncoder(&buf)
	dec.SetEscapeHTML(false)
	err := dec.Encode(data)
	if err != nil {
		b, _ := json.Marshal("!" + err.Error())
		return b
	}
	return bytes.TrimSpace(buf.Bytes())
}

// quoteChar formats c as a quoted character literal.
func quoteChar(c byte) string {
	// special cases - different from quoted strings
	if c == '\'' {
		return `'\''`
	}
	if c == '"' {
		return `'"'`
	}

	// use quoted string with different quotation marks
	s := strconv.Quote(string(c))
	return "'" + s[1:len(s)-1] + "'"
}
