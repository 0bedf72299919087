// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package haptic implements the optional haptic input provider:
// sensor/actuator devices appended after the gamepad provider's filled
// slots. The subsystem is gated at the interface level rather than by
// build tag, so a build with no --haptics-server flag still links cleanly
// and behaves as "zero devices".
package haptic

import (
	"sync/atomic"

	"github.com/VyrCossont/pinput/gpio"
)

// buttonPressThreshold is the sensor-to-button mapping cutoff: a scaled
// sensor reading at or above this fraction of full scale counts as
// "pressed".
const buttonPressThreshold = 0.5

// Actuator is one vibration motor's current commanded speed, 0.0 to 1.0.
type Actuator struct {
	Speed float64
}

// SensorReading is one haptic device's pressure/button sensor value,
// rescaled to a 0.0..1.0 fraction of its reported range.
type SensorReading struct {
	Value float64
}

// DeviceSnapshot is the haptic backend's published state for one device,
// read by the sync loop without blocking.
type DeviceSnapshot struct {
	Actuators      []Actuator
	PressureInputs []SensorReading // up to 4, filling left_x/left_y/right_x/right_y
	ButtonInputs   []SensorReading // up to 4, filling A/B/X/Y
	BatteryLevel   byte            // 0..255, atomically cached; 0 if unsupported
	HasBattery     bool
}

// Device is one attached haptic device.
type Device interface {
	// Snapshot returns the device's latest published state. Never blocks.
	Snapshot() DeviceSnapshot
	// SetVibration submits fire-and-forget actuator speeds (0..1 each).
	SetVibration(speeds []float64)
	Close() error
}

// Provider implements the haptic Input Provider contract,
// appended to the sync loop's slot table after the gamepad provider's
// filled slots.
type Provider interface {
	// Devices returns the currently attached haptic devices, in backend
	// attachment order. Known irregularity:
	// this order is not stable across a gamepad hot-plug, which can
	// renumber haptic slots behind it.
	Devices() []Device
}

// Sync runs the haptic mapping contract for one device
// bound to slot, mirroring gamepad.Provider.Sync's record-mutation shape
// so the Sync Engine can treat both providers uniformly.
func Sync(dev Device, rec *gpio.Gamepad) {
	snap := dev.Snapshot()

	flags := gpio.FlagHapticDevice | gpio.FlagConnected
	if len(snap.Actuators) > 0 {
		flags |= gpio.FlagHasRumble
	}
	if snap.HasBattery {
		flags |= gpio.FlagHasBattery
	}
	rec.Flags = flags
	if snap.HasBattery {
		rec.Battery = snap.BatteryLevel
	}

	rec.Buttons = 0
	buttonUsage := []gpio.Buttons{gpio.ButtonA, gpio.ButtonB, gpio.ButtonX, gpio.ButtonY}
	for i, reading := range snap.ButtonInputs {
		if i >= len(buttonUsage) {
			break
		}
		if reading.Value >= buttonPressThreshold {
			rec.Buttons |= buttonUsage[i]
		}
	}

	var sticks [4]*int16
	sticks[0], sticks[1], sticks[2], sticks[3] = &rec.LeftStickX, &rec.LeftStickY, &rec.RightStickX, &rec.RightStickY
	for i := range sticks {
		*sticks[i] = 0
	}
	for i, reading := range snap.PressureInputs {
		if i >= len(sticks) {
			break
		}
		*sticks[i] = int16((reading.Value*2 - 1) * 32767)
	}

	lo, hi := rec.LoFreqRumble, rec.HiFreqRumble
	switch len(snap.Actuators) {
	case 2:
		dev.SetVibration([]float64{float64(lo) / 255.0, float64(hi) / 255.0})
	case 0:
		// no actuators; nothing to drive
	default:
		speed := float64(lo)
		if float64(hi) > speed {
			speed = float64(hi)
		}
		speed /= 255.0
		speeds := make([]float64, len(snap.Actuators))
		for i := range speeds {
			speeds[i] = speed
		}
		dev.SetVibration(speeds)
	}
}

// AtomicBattery is a single-writer (background poll task), multi-reader
// (sync loop) battery level cell, crossing the async/sync boundary without
// a lock.
type AtomicBattery struct {
	level atomic.Uint32
}

// Store publishes a freshly polled battery level (0..255).
func (b *AtomicBattery) Store(level byte) {
	b.level.Store(uint32(level))
}

// Load reads the most recently published battery level without blocking.
func (b *AtomicBattery) Load() byte {
	return byte(b.level.Load())
}

// Noop is the "no devices" haptic provider used when --haptics-server is
// not given: a trivial polymorphic plugin with zero attached
// devices, so the sync loop's haptic slot range is simply empty.
type Noop struct{}

// Devices always returns nil.
func (Noop) Devices() []Device { return nil }

var _ Provider = Noop{}
