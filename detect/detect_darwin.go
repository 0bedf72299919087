// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build darwin

package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
	"howett.net/plist"
)

// darwinDetector enumerates processes via sysctl(KERN_PROC_ALL), which
// needs no cgo and no entitlement just to list pids, and resolves each
// process's executable path through libproc's proc_pidpath, bound at
// runtime with purego.
type darwinDetector struct{}

// NewDetector returns the macOS Runtime Detector backend.
func NewDetector() Detector {
	return darwinDetector{}
}

var (
	libprocOnce sync.Once
	libprocErr  error
	procPidPath func(pid int32, buf *byte, bufSize uint32) int32
)

func loadLibproc() error {
	libprocOnce.Do(func() {
		lib, err := purego.Dlopen("/usr/lib/libproc.dylib", purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			libprocErr = fmt.Errorf("detect: dlopen libproc: %w", err)
			return
		}
		purego.RegisterLibFunc(&procPidPath, lib, "proc_pidpath")
	})
	return libprocErr
}

// pidPath resolves a pid's executable path via proc_pidpath. Buffer size
// matches Darwin's PROC_PIDPATHINFO_MAXSIZE (4*MAXPATHLEN).
func pidPath(pid int32) (string, error) {
	if err := loadLibproc(); err != nil {
		return "", err
	}
	buf := make([]byte, 4*1024)
	n := procPidPath(pid, &buf[0], uint32(len(buf)))
	if n <= 0 {
		return "", fmt.Errorf("detect: proc_pidpath(%d) failed", pid)
	}
	return string(buf[:n]), nil
}

// listPids enumerates all process IDs via sysctl(CTL_KERN, KERN_PROC,
// KERN_PROC_ALL). The golang.org/x/sys/unix helper decodes the
// kinfo_proc struct for us, so there's no need to hand-parse
// architecture-specific field offsets.
func listPids() ([]int32, error) {
	procs, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		return nil, fmt.Errorf("detect: sysctl kern.proc.all: %w", err)
	}

	pids := make([]int32, 0, len(procs))
	for _, p := range procs {
		if p.Proc.P_pid > 0 {
			pids = append(pids, p.Proc.P_pid)
		}
	}
	return pids, nil
}

func (darwinDetector) EnumerateCandidates() ([]Candidate, error) {
	pids, err := listPids()
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, pid := range pids {
		path, err := pidPath(pid)
		if err != nil {
			continue // process exited, or we can't query it; not fatal
		}
		if flavor, ok := classifyByPath(path); ok {
			candidates = append(candidates, Candidate{Pid: int(pid), Flavor: flavor})
			continue
		}
		if flavor, ok := classifyByBundle(path); ok {
			candidates = append(candidates, Candidate{Pid: int(pid), Flavor: flavor})
		}
	}
	return candidates, nil
}

// bundleInfo is the subset of Info.plist fields bundle classification reads.
type bundleInfo struct {
	CFBundleIdentifier string `plist:"CFBundleIdentifier"`
	CFBundleExecutable string `plist:"CFBundleExecutable"`
}

// classifyByBundle applies the macOS bundle rule: walk ancestors of the
// executable path for a ".app" bundle, load its Info.plist, and check the
// bundle identifier and that the executable path matches
// <bundle>/Contents/MacOS/<CFBundleExecutable> exactly (so inner helper
// binaries inside the bundle do not match). Any error reading or parsing
// the plist is non-fatal and reduces to "not a runtime" — a malformed
// bundle belonging to an unrelated app must never be misclassified.
func classifyByBundle(execPath string) (Flavor, bool) {
	bundle := findAppBundle(execPath)
	if bundle == "" {
		return 0, false
	}

	data, err := os.ReadFile(filepath.Join(bundle, "Contents", "Info.plist"))
	if err != nil {
		return 0, false
	}

	var info bundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return 0, false
	}

	isPico8Bundle := info.CFBundleIdentifier == "com.lexaloffle.pico8" ||
		strings.HasPrefix(info.CFBundleIdentifier, "com.pico8_author.")
	if !isPico8Bundle {
		return 0, false
	}

	want := filepath.Join(bundle, "Contents", "MacOS", info.CFBundleExecutable)
	if execPath != want {
		return 0, false
	}
	return PICO8, true
}

// findAppBundle walks ancestors of execPath looking for a directory whose
// extension is ".app".
func findAppBundle(execPath string) string {
	dir := filepath.Dir(execPath)
	for dir != "/" && dir != "." {
		if filepath.Ext(dir) == ".app" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
