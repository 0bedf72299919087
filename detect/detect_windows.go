// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build windows

package detect

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsDetector enumerates processes with a Toolhelp32 snapshot and
// resolves each one's executable path with QueryFullProcessImageName. There
// is no bundle-metadata rule on Windows
// and no queryable PICO-8 symbol table, so only the two file-name rules
// apply here.
type windowsDetector struct{}

// NewDetector returns the Windows Runtime Detector backend.
func NewDetector() Detector {
	return windowsDetector{}
}

func (windowsDetector) EnumerateCandidates() ([]Candidate, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var candidates []Candidate
	if err := windows.Process32First(snap, &entry); err != nil {
		return nil, err
	}
	for {
		pid := entry.ProcessID
		if path, err := fullImagePath(pid); err == nil {
			if flavor, ok := classifyByPath(path); ok {
				candidates = append(candidates, Candidate{Pid: int(pid), Flavor: flavor})
			}
		}

		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}
	return candidates, nil
}

// fullImagePath opens pid with the least-privileged query rights available
// and asks the OS for its full executable path. A process that refuses to
// open (protected system process, exit race) is skipped, not fatal.
func fullImagePath(pid uint32) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", err
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf[:size]), nil
}
