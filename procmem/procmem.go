// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package procmem is the platform-abstracted Process Memory Oracle: it
// opens a handle to another process's virtual memory, lists that process's
// memory regions, and reads/writes/searches within them. Each
// OS gets its own backend file (procmem_linux.go, procmem_darwin.go,
// procmem_windows.go); the core (Runtime Connection, Sync Engine) only
// ever sees the Oracle/Handle interfaces defined here.
package procmem

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"

	"github.com/VyrCossont/pinput/detect"
)

// Sentinel error kinds. Callers dispatch on these with errors.Is: the
// scan loop skips a region on a transient failure, while the sync loop
// treats any of them as "runtime quit".
var (
	ErrNotMapped        = errors.New("procmem: address not mapped")
	ErrPermissionDenied = errors.New("procmem: permission denied")
	ErrProcessExited    = errors.New("procmem: process exited")
	ErrTransientOSError = errors.New("procmem: transient OS error")
)

// Region describes one entry of a target process's virtual memory map.
type Region struct {
	Start       uint64
	Size        uint64
	Readable    bool
	Writable    bool
	Executable  bool
	BackingPath string // empty for an anonymous mapping
}

// Handle permits reading and writing another process's virtual memory. It
// is released (Close) when the RuntimeConnection that owns it is
// discarded — on the next scan, or on the first I/O failure.
type Handle interface {
	ReadBytes(addr uint64, size int) ([]byte, error)
	WriteBytes(addr uint64, data []byte) error
	Close() error
}

// Oracle is the platform-specific capability provider: open a handle to a
// pid, and list that pid's memory regions.
type Oracle interface {
	Open(pid int) (Handle, error)
	ListRegions(pid int) ([]Region, error)
}

// FindInRegion reads a region's bytes through h and searches for needle
// (the 16-byte PinputMagic in practice). It returns the byte offset of the
// first match within the region, or found=false if needle does not occur.
func FindInRegion(h Handle, r Region, needle []byte) (offset int, found bool, err error) {
	data, err := h.ReadBytes(r.Start, int(r.Size))
	if err != nil {
		return 0, false, err
	}
	idx := bytes.Index(data, needle)
	if idx < 0 {
		return 0, false, nil
	}
	return idx, true, nil
}

// Pico8DataSegmentFilter selects regions that can hold PICO-8's data
// segment. Linux anonymous mappings have no backing file at all; on other
// platforms the region must be backed by the PICO-8 executable itself,
// except for the Windows special case where PICO-8 maps its entire
// executable as one rwx region.
func Pico8DataSegmentFilter(r Region) bool {
	if runtime.GOOS == "linux" {
		return r.Readable && r.Writable && !r.Executable && r.BackingPath == ""
	}
	if runtime.GOOS == "windows" {
		// The Windows PICO-8 process has a single rwx region covering the
		// whole executable; accept rwx there instead of requiring non-x.
		if r.Readable && r.Writable && r.Executable && detect.IsPico8ExecutablePath(r.BackingPath) {
			return true
		}
	}
	return r.Readable && r.Writable && !r.Executable && detect.IsPico8ExecutablePath(r.BackingPath)
}

// Wasm4DataSegmentFilter selects regions that can hold WASM-4's linear
// memory: read+write, not executable, anonymous, on every platform.
func Wasm4DataSegmentFilter(r Region) bool {
	return r.Readable && r.Writable && !r.Executable && r.BackingPath == ""
}

// DataSegmentFilter selects the filter appropriate to flavor.
func DataSegmentFilter(flavor detect.Flavor) func(Region) bool {
	switch flavor {
	case detect.PICO8:
		return Pico8DataSegmentFilter
	case detect.WASM4:
		return Wasm4DataSegmentFilter
	default:
		return func(Region) bool { return false }
	}
}

// wrapOSError prefixes a raw OS error with the failing operation. It does
// not map the error to one of the sentinel kinds above: platform files map
// the errors they recognize themselves, and this is the shared fallback
// for the rest.
func wrapOSError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("procmem: %s: %w", op, err)
}
