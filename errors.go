// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pinput

import "fmt"

// Error kinds returned by the core locator and sync engine. Callers should
// use errors.Is against these sentinels; the scan loop itself logs and
// retries on every connection error (see Run).
var (
	// ErrNoProcessesFound means no PICO-8 or WASM-4 candidate process was
	// running anywhere on the system. The scan loop retries.
	ErrNoProcessesFound = fmt.Errorf("pinput: no candidate runtime processes found")

	// ErrPinputNotEnabled means a candidate runtime was found but no memory
	// region in its address space carries PinputMagic yet. The scan loop
	// retries; the runtime may load a Pinput-aware cartridge later.
	ErrPinputNotEnabled = fmt.Errorf("pinput: runtime found but no cartridge has enabled pinput")

	// ErrMissingPrerequisites means a platform capability required to read
	// another process's memory is absent (CAP_SYS_PTRACE on Linux; on
	// macOS, only a failure to load the Mach bindings, since a missing
	// debugger entitlement surfaces later as procmem.ErrPermissionDenied).
	// Fatal: the daemon exits before entering any loop.
	ErrMissingPrerequisites = fmt.Errorf("pinput: missing platform prerequisites")
)

// PinputNotEnabledError wraps ErrPinputNotEnabled with the pid that was
// examined.
type PinputNotEnabledError struct {
	Pid int
}

func (e *PinputNotEnabledError) Error() string {
	return fmt.Sprintf("pinput: pid %d has no pinput-enabled cartridge loaded", e.Pid)
}

func (e *PinputNotEnabledError) Unwrap() error {
	return ErrPinputNotEnabled
}
