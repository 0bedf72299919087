// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build darwin

package procmem

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"periph.io/x/conn/v3/driver/driverreg"
)

// Mach kern_return_t / vm_prot_t constants from mach/kern_return.h and
// mach/vm_prot.h.
const (
	kernSuccess               = 0
	kernInvalidTask           = 16
	kernFailure               = 5
	vmProtRead                = 0x1
	vmProtWrite               = 0x2
	vmProtExecute             = 0x4
	vmRegionSubmapInfo64Count = 19 // VM_REGION_SUBMAP_INFO_COUNT_64
)

var (
	machOnce               sync.Once
	machErr                error
	cTaskForPid            func(targetTport uint32, pid int32, task *uint32) int32
	cMachTaskSelf          func() uint32
	cMachVMReadOverwrite   func(targetTask uint32, address uint64, size uint64, data uint64, outsize *uint64) int32
	cMachVMWrite           func(targetTask uint32, address uint64, data uintptr, dataCnt uint32) int32
	cMachVMRegionRecurse64 func(targetTask uint32, address *uint64, size *uint64, depth *uint32, info uintptr, infoCnt *uint32) int32
	cMachPortDeallocate    func(task uint32, name uint32) int32

	libprocOnce         sync.Once
	libprocErr          error
	cProcRegionFilename func(pid int32, address uint64, buffer *byte, bufferSize uint32) int32
)

func loadMach() error {
	machOnce.Do(func() {
		lib, err := purego.Dlopen("/usr/lib/system/libsystem_kernel.dylib", purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			machErr = fmt.Errorf("procmem: dlopen libsystem_kernel: %w", err)
			return
		}
		purego.RegisterLibFunc(&cTaskForPid, lib, "task_for_pid")
		purego.RegisterLibFunc(&cMachTaskSelf, lib, "mach_task_self")
		purego.RegisterLibFunc(&cMachVMReadOverwrite, lib, "mach_vm_read_overwrite")
		purego.RegisterLibFunc(&cMachVMWrite, lib, "mach_vm_write")
		purego.RegisterLibFunc(&cMachVMRegionRecurse64, lib, "mach_vm_region_recurse_64")
		purego.RegisterLibFunc(&cMachPortDeallocate, lib, "mach_port_deallocate")
	})
	return machErr
}

func loadLibproc() error {
	libprocOnce.Do(func() {
		lib, err := purego.Dlopen("/usr/lib/libproc.dylib", purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			libprocErr = fmt.Errorf("procmem: dlopen libproc: %w", err)
			return
		}
		purego.RegisterLibFunc(&cProcRegionFilename, lib, "proc_regionfilename")
	})
	return libprocErr
}

// CheckCapabilities runs the macOS prerequisite check. Reading
// another process's memory via task_for_pid requires either running as
// root or the calling binary holding the com.apple.security.cs.debugger
// entitlement (or SIP's task_for_pid-allow exception list). There is no
// cheap way to introspect our own code-signing entitlements without
// shelling out to codesign, so the check is deferred to the first
// task_for_pid call: a kernel refusal there is reported as
// ErrPermissionDenied, with the entitlement guidance in its message.
func CheckCapabilities() error {
	if err := loadMach(); err != nil {
		return err
	}
	return nil
}

// vmRegionSubmapInfo64 mirrors the head of Darwin's
// vm_region_submap_info_64 (mach/vm_region.h): the fields the Process
// Memory Oracle needs (protection and share mode) sit at fixed offsets
// that are stable across the 64-bit xnu ABI.
type vmRegionSubmapInfo64 struct {
	Protection            int32
	MaxProtection         int32
	Inheritance           int32
	_                     int32 // padding to align the 8-byte offset field
	Offset                uint64
	UserTag               uint32
	PagesResident         uint32
	PagesSharedNowPrivate uint32
	PagesSwappedOut       uint32
	PagesDirtied          uint32
	RefCount              uint32
	ShadowDepth           uint16
	ExternalPager         uint8
	ShareMode             uint8
	IsSubmap              int32
	Behavior              int32
	ObjectID              uint32
	UserWiredCount        uint16
}

const shareModeCowShared = 3 // SM_COW, SM_SHARED family; anonymous regions read private/shared

type darwinOracle struct{}

// NewOracle returns the macOS Process Memory Oracle backend.
func NewOracle() Oracle {
	return darwinOracle{}
}

func (darwinOracle) openTask(pid int) (uint32, error) {
	if err := loadMach(); err != nil {
		return 0, err
	}
	self := cMachTaskSelf()
	var task uint32
	kr := cTaskForPid(self, int32(pid), &task)
	switch kr {
	case kernSuccess:
		return task, nil
	case kernInvalidTask, kernFailure:
		return 0, fmt.Errorf("%w: task_for_pid(%d) denied; the pinput binary needs the "+
			"com.apple.security.cs.debugger entitlement or to run as root", ErrPermissionDenied, pid)
	default:
		return 0, fmt.Errorf("%w: task_for_pid(%d): kern_return_t %d", ErrTransientOSError, pid, kr)
	}
}

func (o darwinOracle) Open(pid int) (Handle, error) {
	task, err := o.openTask(pid)
	if err != nil {
		return nil, err
	}
	return &darwinHandle{pid: pid, task: task}, nil
}

func (o darwinOracle) ListRegions(pid int) ([]Region, error) {
	task, err := o.openTask(pid)
	if err != nil {
		return nil, err
	}
	defer cMachPortDeallocate(cMachTaskSelf(), task)

	var regions []Region
	var addr uint64
	for {
		size := uint64(0)
		depth := uint32(0)
		var info vmRegionSubmapInfo64
		infoCnt := uint32(vmRegionSubmapInfo64Count)
		kr := cMachVMRegionRecurse64(task, &addr, &size, &depth, uintptr(unsafe.Pointer(&info)), &infoCnt)
		if kr != kernSuccess {
			break // no more regions
		}

		path := ""
		if loadLibproc() == nil {
			path = regionFilename(int32(pid), addr)
		}

		regions = append(regions, Region{
			Start:       addr,
			Size:        size,
			Readable:    info.Protection&vmProtRead != 0,
			Writable:    info.Protection&vmProtWrite != 0,
			Executable:  info.Protection&vmProtExecute != 0,
			BackingPath: path,
		})
		addr += size
	}
	return regions, nil
}

// regionFilename resolves the file backing a mapped region via
// proc_regionfilename; an empty result means the region is anonymous.
func regionFilename(pid int32, addr uint64) string {
	buf := make([]byte, 4*1024)
	n := cProcRegionFilename(pid, addr, &buf[0], uint32(len(buf)))
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

type darwinHandle struct {
	pid  int
	task uint32
}

func (h *darwinHandle) ReadBytes(addr uint64, size int) ([]byte, error) {
	buf := make([]byte, size)
	var outsize uint64
	kr := cMachVMReadOverwrite(h.task, addr, uint64(size), uint64(uintptr(unsafe.Pointer(&buf[0]))), &outsize)
	if kr != kernSuccess {
		return nil, classifyKernReturn(kr)
	}
	return buf[:outsize], nil
}

func (h *darwinHandle) WriteBytes(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	kr := cMachVMWrite(h.task, addr, uintptr(unsafe.Pointer(&data[0])), uint32(len(data)))
	if kr != kernSuccess {
		return classifyKernReturn(kr)
	}
	return nil
}

func (h *darwinHandle) Close() error {
	cMachPortDeallocate(cMachTaskSelf(), h.task)
	return nil
}

// classifyKernReturn maps a Mach kern_return_t to the package's sentinel
// error kinds.
func classifyKernReturn(kr int32) error {
	switch kr {
	case kernInvalidTask:
		return ErrProcessExited
	case kernFailure:
		return ErrPermissionDenied
	case 1: // KERN_INVALID_ADDRESS
		return ErrNotMapped
	default:
		return fmt.Errorf("%w: kern_return_t %d", ErrTransientOSError, kr)
	}
}

// driverCaps surfaces the debugger-entitlement prerequisite through
// driverreg. Entitlements can't be introspected cheaply (see
// CheckCapabilities), so this mostly verifies the Mach bindings load.
type driverCaps struct {
	_ string
}

func (d *driverCaps) String() string {
	return "procmem-caps-darwin"
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
