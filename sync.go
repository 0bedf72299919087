// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pinput

import (
	"context"
	"log"
	"time"

	"github.com/VyrCossont/pinput/detect"
	"github.com/VyrCossont/pinput/gamepad"
	"github.com/VyrCossont/pinput/gpio"
	"github.com/VyrCossont/pinput/haptic"
	"github.com/VyrCossont/pinput/procmem"
)

const (
	defaultScanInterval = time.Second
	defaultFramePeriod  = time.Second / 60
)

// Engine drives the two sequential loops: a coarse scan loop that
// establishes a RuntimeConnection, and a frame-paced sync loop that
// publishes gamepad state into it until remote I/O fails. Exactly one
// goroutine runs the engine; providers publish cross-thread state through
// their own atomics.
type Engine struct {
	Detector detect.Detector
	Oracle   procmem.Oracle
	Gamepads *gamepad.Provider
	Haptics  haptic.Provider

	// ScanInterval and FramePeriod default to 1s and 1/60s when zero.
	ScanInterval time.Duration
	FramePeriod  time.Duration
}

// Run executes the scan loop until ctx is canceled: wait one interval,
// attempt a connection, and on success hand off to the sync loop. Every
// connection failure is logged and retried; cancellation is the only
// clean exit.
func (e *Engine) Run(ctx context.Context) error {
	scan := e.ScanInterval
	if scan == 0 {
		scan = defaultScanInterval
	}
	ticker := time.NewTicker(scan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		conn, err := TryNew(e.Detector, e.Oracle)
		if err != nil {
			log.Printf("pinput: scan: %v", err)
			continue
		}
		e.syncLoop(ctx, conn)
		conn.Close()
	}
}

// syncLoop runs frame ticks against conn until ctx is canceled or a
// remote read/write fails, which means the runtime most likely quit;
// control then returns to the scan loop. I/O errors are never retried on
// the same connection.
func (e *Engine) syncLoop(ctx context.Context, conn *RuntimeConnection) {
	frame := e.FramePeriod
	if frame == 0 {
		frame = defaultFramePeriod
	}
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := e.syncTick(conn); err != nil {
			log.Printf("pinput: %s (pid %d): %v; rescanning", conn.Flavor, conn.Pid, err)
			return
		}
	}
}

// syncTick is one frame of the read-modify-write cycle: GPIO is read
// exactly once, modified entirely in local memory, then written exactly
// once.
func (e *Engine) syncTick(conn *RuntimeConnection) error {
	if err := e.Gamepads.Poll(); err != nil {
		log.Printf("pinput: gamepad poll: %v", err)
	}

	magic, err := conn.ReadMagic()
	if err != nil {
		return err
	}

	var arr gpio.Array
	if magic != gpio.Magic {
		arr, err = conn.ReadArray()
		if err != nil {
			return err
		}
	}
	// Otherwise the cartridge has just reset and the array contents are
	// stale: start from zeros, dropping any rumble bytes from the
	// previous cartridge run.

	numGamepads := e.Gamepads.Attached()
	for slot := 0; slot < numGamepads; slot++ {
		if err := e.Gamepads.Sync(slot, &arr[slot]); err != nil {
			log.Printf("pinput: gamepad slot %d: %v", slot, err)
		}
	}

	if e.Haptics != nil {
		for i, dev := range e.Haptics.Devices() {
			slot := numGamepads + i
			if slot >= gpio.NumSlots {
				break
			}
			haptic.Sync(dev, &arr[slot])
		}
	}

	return conn.WriteArray(arr)
}
