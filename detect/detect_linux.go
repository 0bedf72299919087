// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package detect

import (
	"os"
	"strconv"
)

// linuxDetector enumerates /proc and classifies each process by the target
// of its /proc/[pid]/exe symlink. Linux executables carry no queryable
// bundle metadata, so only the path-based classification rules apply here;
// see classifyByBundle in detect_darwin.go for the bundle rule.
type linuxDetector struct{}

// NewDetector returns the Linux Runtime Detector backend.
func NewDetector() Detector {
	return linuxDetector{}
}

func (linuxDetector) EnumerateCandidates() ([]Candidate, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // not a pid directory
		}

		exe, err := os.Readlink("/proc/" + entry.Name() + "/exe")
		if err != nil {
			// Permission denied or the process exited between ReadDir and
			// Readlink. Not fatal: skip it.
			continue
		}

		if flavor, ok := classifyByPath(exe); ok {
			candidates = append(candidates, Candidate{Pid: pid, Flavor: flavor})
		}
	}
	return candidates, nil
}
