// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pinput locates a running PICO-8 or WASM-4 instance, finds the
// magic-tagged GPIO region inside its address space, and keeps that
// region's 8-slot gamepad array synchronized with the host's controllers.
package pinput

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/driver/driverreg"
)

// Init calls driverreg.Init() and returns it as-is, guaranteeing that the
// platform capability drivers implemented in this module are implicitly
// loaded. A failed capability driver (CAP_SYS_PTRACE absent on Linux) is
// promoted to an ErrMissingPrerequisites error so callers can exit with
// the remediation message before entering any loop.
func Init() (*driverreg.State, error) {
	state, err := driverreg.Init()
	if err != nil {
		return state, err
	}
	for _, f := range state.Failed {
		if strings.HasPrefix(f.D.String(), "procmem-caps") {
			return state, fmt.Errorf("%w: %v", ErrMissingPrerequisites, f.Err)
		}
	}
	return state, nil
}
