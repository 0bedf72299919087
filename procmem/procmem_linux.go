// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package procmem

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/driver/driverreg"
)

// capSysPtrace is CAP_SYS_PTRACE's bit position, from linux/capability.h.
const capSysPtrace = 19

// CheckCapabilities verifies the daemon process holds CAP_SYS_PTRACE
// (effective), without which process_vm_readv on another user's process
// fails. The returned error carries the setcap remediation command.
func CheckCapabilities() error {
	have, err := hasEffectiveCapSysPtrace()
	if err != nil {
		return fmt.Errorf("procmem: reading capability set: %w", err)
	}
	if !have {
		exe, _ := os.Executable()
		if exe == "" {
			exe = "pinput"
		}
		return fmt.Errorf(
			"missing CAP_SYS_PTRACE; run:\n\tsudo setcap cap_sys_ptrace+ep %s",
			exe,
		)
	}
	return nil
}

// hasEffectiveCapSysPtrace reads CapEff out of /proc/self/status, the
// standard cgo-free way to inspect a process's own capability set.
func hasEffectiveCapSysPtrace() (bool, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		hexStr := strings.TrimSpace(strings.TrimPrefix(line, "CapEff:"))
		mask, err := strconv.ParseUint(hexStr, 16, 64)
		if err != nil {
			return false, err
		}
		return mask&(1<<capSysPtrace) != 0, nil
	}
	return false, scanner.Err()
}

// linuxOracle implements Oracle using /proc/[pid]/maps for region listing
// and process_vm_readv/writev, the CAP_SYS_PTRACE-gated syscalls for
// same-host cross-process memory I/O.
type linuxOracle struct{}

// NewOracle returns the Linux Process Memory Oracle backend.
func NewOracle() Oracle {
	return linuxOracle{}
}

func (linuxOracle) Open(pid int) (Handle, error) {
	// Confirm the process exists and we can see it before handing back a
	// handle; process_vm_readv fails per-call otherwise with no cheaper
	// up-front check.
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrProcessExited
		}
		if os.IsPermission(err) {
			return nil, ErrPermissionDenied
		}
		return nil, wrapOSError("open", err)
	}
	return &linuxHandle{pid: pid}, nil
}

func (linuxOracle) ListRegions(pid int) ([]Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrProcessExited
		}
		if os.IsPermission(err) {
			return nil, ErrPermissionDenied
		}
		return nil, wrapOSError("list_regions", err)
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		r, ok := parseMapsLine(scanner.Text())
		if ok {
			regions = append(regions, r)
		}
	}
	return regions, scanner.Err()
}

// parseMapsLine parses one line of /proc/[pid]/maps, e.g.:
//
//	7f1a2b3c4000-7f1a2b3c5000 rw-p 00000000 00:00 0       [heap]
func parseMapsLine(line string) (Region, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Region{}, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Region{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Region{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Region{}, false
	}
	perms := fields[1]
	r := Region{
		Start:      start,
		Size:       end - start,
		Readable:   strings.Contains(perms, "r"),
		Writable:   strings.Contains(perms, "w"),
		Executable: strings.Contains(perms, "x"),
	}
	if len(fields) >= 6 {
		path := fields[5]
		if !strings.HasPrefix(path, "[") {
			r.BackingPath = path
		}
	}
	return r, true
}

type linuxHandle struct {
	pid int
}

func (h *linuxHandle) ReadBytes(addr uint64, size int) ([]byte, error) {
	buf := make([]byte, size)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(size)}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: size}}
	n, err := unix.ProcessVMReadv(h.pid, local, remote, 0)
	if err != nil {
		return nil, classifyErrno(err)
	}
	return buf[:n], nil
}

func (h *linuxHandle) WriteBytes(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &data[0], Len: uint64(len(data))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	_, err := unix.ProcessVMWritev(h.pid, local, remote, 0)
	if err != nil {
		return classifyErrno(err)
	}
	return nil
}

func (h *linuxHandle) Close() error {
	return nil
}

// classifyErrno maps process_vm_readv/writev failures to the sentinel
// kinds: ESRCH means the process is gone, EPERM/EACCES are
// permission failures, everything else is transient.
func classifyErrno(err error) error {
	switch err {
	case unix.ESRCH:
		return ErrProcessExited
	case unix.EPERM, unix.EACCES:
		return ErrPermissionDenied
	case unix.EFAULT, unix.ENOMEM:
		return ErrNotMapped
	default:
		return fmt.Errorf("%w: %v", ErrTransientOSError, err)
	}
}

// driverCaps surfaces the CAP_SYS_PTRACE check through driverreg, so
// pinput.Init fails before any loop starts when the capability is absent.
type driverCaps struct {
	_ string
}

func (d *driverCaps) String() string {
	return "procmem-caps-linux"
}

func (d *driverCaps) Prerequisites() []string {
	return nil
}

func (d *driverCaps) After() []string {
	return nil
}

func (d *driverCaps) Init() (bool, error) {
	if err := CheckCapabilities(); err != nil {
		return true, err
	}
	return true, nil
}

var drvCaps driverCaps

func init() {
	driverreg.MustRegister(&drvCaps)
}
