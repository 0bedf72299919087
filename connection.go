// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pinput

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/VyrCossont/pinput/detect"
	"github.com/VyrCossont/pinput/gpio"
	"github.com/VyrCossont/pinput/procmem"
)

// RuntimeConnection binds a discovered runtime process to the base address
// of its 128-byte GPIO region. The base address, once resolved, is held
// fixed for the life of the connection: if the target unmaps or resizes
// that region, the next read or write fails and the connection is
// discarded by the sync engine in favor of a fresh scan.
type RuntimeConnection struct {
	Pid    int
	Flavor detect.Flavor

	handle   procmem.Handle
	gpioBase uint64
}

// TryNew enumerates candidate runtimes, opens the first one found, and
// searches its filtered memory regions for gpio.Magic.
//
// Returns ErrNoProcessesFound when nothing runtime-shaped is running, and
// a PinputNotEnabledError when a runtime is present but no cartridge has
// written the magic yet; both are retried by the scan loop. Errors from
// opening the process handle (notably procmem.ErrPermissionDenied) bubble
// up unchanged. A read failure on one candidate region skips that region
// rather than aborting the search.
func TryNew(det detect.Detector, oracle procmem.Oracle) (*RuntimeConnection, error) {
	candidates, err := det.EnumerateCandidates()
	if err != nil {
		return nil, fmt.Errorf("pinput: enumerating processes: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoProcessesFound
	}
	// No multi-runtime prioritization: first candidate in enumeration
	// order wins.
	cand := candidates[0]

	handle, err := oracle.Open(cand.Pid)
	if err != nil {
		return nil, err
	}

	regions, err := oracle.ListRegions(cand.Pid)
	if err != nil {
		handle.Close()
		return nil, err
	}

	filter := procmem.DataSegmentFilter(cand.Flavor)
	needle := gpio.Magic[:]
	for _, r := range regions {
		if !filter(r) {
			continue
		}
		off, found, err := procmem.FindInRegion(handle, r, needle)
		if err != nil {
			// A region can vanish or be protected between the listing
			// and the read; keep scanning the rest.
			continue
		}
		if found {
			base := r.Start + uint64(off)
			log.Printf("pinput: %s (pid %d): gpio at %#x", cand.Flavor, cand.Pid, base)
			return &RuntimeConnection{
				Pid:      cand.Pid,
				Flavor:   cand.Flavor,
				handle:   handle,
				gpioBase: base,
			}, nil
		}
	}

	handle.Close()
	return nil, &PinputNotEnabledError{Pid: cand.Pid}
}

// ReadMagic reads the 16 bytes at the GPIO base and interprets them as a
// UUID. During normal operation these bytes hold slot 0's gamepad record;
// they only equal gpio.Magic again when the cartridge has reset.
func (c *RuntimeConnection) ReadMagic() (uuid.UUID, error) {
	b, err := c.handle.ReadBytes(c.gpioBase, gpio.MagicSize)
	if err != nil {
		return uuid.UUID{}, err
	}
	return gpio.ReadMagic(b), nil
}

// ReadArray reads the full 128-byte GPIO image and decodes it as the
// 8-slot gamepad array.
func (c *RuntimeConnection) ReadArray() (gpio.Array, error) {
	b, err := c.handle.ReadBytes(c.gpioBase, gpio.ArraySize)
	if err != nil {
		return gpio.Array{}, err
	}
	return gpio.UnmarshalArray(b), nil
}

// WriteArray encodes the 8-slot gamepad array and writes all 128 bytes
// back to the GPIO base in one remote write.
func (c *RuntimeConnection) WriteArray(a gpio.Array) error {
	b := make([]byte, gpio.ArraySize)
	a.Marshal(b)
	return c.handle.WriteBytes(c.gpioBase, b)
}

// Close releases the process handle. The connection must not be used
// afterwards.
func (c *RuntimeConnection) Close() error {
	return c.handle.Close()
}
