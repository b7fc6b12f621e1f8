// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version reports the build version.
package version

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
)

// Print prints the build version to w.
func Print(w io.Writer) error {
	v, err := String()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, v)
	return err
}

// String returns the module version and VCS revision of the build.
func String() (string, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", errors.New("no build info")
	}
	var revision, modified string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			revision = bs.Value
		case "vcs.modified":
			modified = bs.Value
		}
	}
	if revision == "" {
		return bi.Main.Version, nil
	}
	switch modified {
	case "true":
		return strings.Join([]string{bi.Main.Version, revision, "(modified)"}, " "), nil
	case "false":
		return bi.Main.Version + " " + revision, nil
	default:
		// This should never happen.
		return strings.Join([]string{bi.Main.Version, revision, modified}, " "), nil
	}
}
