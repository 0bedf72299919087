// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package detect enumerates OS processes and classifies each as a PICO-8 or
// WASM-4 runtime instance. Detection never fails fatally:
// individual process inspection errors (permission, exit race, a malformed
// bundle plist) are swallowed and the process is treated as "neither".
package detect

import "path/filepath"

// Flavor distinguishes PICO-8 from WASM-4 for memory-region filtering and
// display.
type Flavor int

const (
	PICO8 Flavor = iota + 1
	WASM4
)

// String returns the display name used in log messages.
func (f Flavor) String() string {
	switch f {
	case PICO8:
		return "PICO-8"
	case WASM4:
		return "WASM-4"
	default:
		return "unknown"
	}
}

// Candidate is a process classified as a PICO-8 or WASM-4 instance.
type Candidate struct {
	Pid    int
	Flavor Flavor
}

// Detector enumerates candidate runtime processes. It never fails fatally:
// individual process inspection errors are swallowed and the process is
// treated as "neither".
type Detector interface {
	EnumerateCandidates() ([]Candidate, error)
}

// wasm4ExecNames are the platform-specific runtime binaries unpacked by the
// WASM-4 launcher. The launcher process itself is not a
// match.
var wasm4ExecNames = map[string]bool{
	"wasm4-mac":         true,
	"wasm4-linux":       true,
	"wasm4-windows.exe": true,
}

// isPico8FileName reports whether the final path component names the
// PICO-8 executable directly: a suffix match on path
// components, not a substring match, case-sensitive on POSIX.
func isPico8FileName(path string) bool {
	base := filepath.Base(path)
	return base == "pico8" || base == "pico8.exe"
}

// isWasm4FileName reports whether the final path component is one of the
// three WASM-4 runtime binary names.
func isWasm4FileName(path string) bool {
	return wasm4ExecNames[filepath.Base(path)]
}

// IsPico8ExecutablePath reports whether path names the PICO-8 executable by
// file name alone. Exported for procmem's PICO-8
// data-segment region filter, which needs to classify a region's backing
// file without re-running the full detector.
func IsPico8ExecutablePath(path string) bool {
	return isPico8FileName(path)
}

// classifyByPath applies the OS-agnostic file-name rules. The macOS bundle
// rule is applied separately by
// detect_darwin.go, since it needs to walk ancestor directories and parse
// Info.plist.
func classifyByPath(path string) (Flavor, bool) {
	if isPico8FileName(path) {
		return PICO8, true
	}
	if isWasm4FileName(path) {
		return WASM4, true
	}
	return 0, false
}
