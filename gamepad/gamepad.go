// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gamepad implements the gamepad Input Provider: one
// slot per attached controller, stable for the life of the attachment, fed
// by a platform-specific Backend (evdev on Linux, IOKit HID on macOS,
// XInput on Windows).
package gamepad

import (
	"strings"
	"sync"

	"github.com/VyrCossont/pinput/gpio"
)

// RawAxes holds one device's stick and trigger state as reported by the
// platform backend, before the mapping contract's scaling is applied.
type RawAxes struct {
	LeftX, LeftY, RightX, RightY int16
	LeftTrigger, RightTrigger    uint16
}

// RawState is one device's state for the current polling sweep.
type RawState struct {
	Connected bool
	GUID      string // SDL-style device GUID, "" if the backend has none
	Mapping   string // SDL-style controller mapping string, "" if unknown
	Buttons   gpio.Buttons
	Battery   byte // abstract level, 0 (absent/wired) to 255 (full)
	Axes      RawAxes
}

// Device is a single open platform gamepad handle.
type Device interface {
	Refresh() error
	State() RawState
	// SetRumble submits lo/hi motor speeds scaled to 0..65535. A dry run
	// with lo=hi=0 is used once per attach to probe rumble support; the
	// backend must still attempt the call rather than short-circuiting on
	// zero magnitudes.
	SetRumble(lo, hi uint16) error
	Close() error
}

// Backend enumerates and refreshes platform gamepad devices, addressed by
// a stable platform index.
type Backend interface {
	// Poll refreshes the backend's internal device list and per-device
	// state in one sweep.
	Poll() error
	// Open binds platform index idx to a Device, or returns nil, nil if
	// nothing is attached there.
	Open(idx int) (Device, error)
	// Count reports how many devices the last Poll sweep saw. The sync
	// engine appends haptic slots after this many gamepad slots.
	Count() int
}

// Provider implements the gamepad Input Provider contract for up to
// gpio.NumSlots attached devices.
type Provider struct {
	backend   Backend
	overrides Overrides

	mu             sync.Mutex
	devices        [gpio.NumSlots]Device
	rumbleProbed   [gpio.NumSlots]bool
	rumbleDisabled [gpio.NumSlots]bool
}

// NewProvider wraps a platform Backend in the generic mapping contract.
func NewProvider(backend Backend) *Provider {
	return &Provider{backend: backend}
}

// SetOverrides installs mapping-string overrides loaded from the optional
// --gamepad-mappings file. An override replaces the backend's mapping for
// any device whose GUID it names.
func (p *Provider) SetOverrides(o Overrides) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides = o
}

// Poll refreshes the backend's device list and state.
func (p *Provider) Poll() error {
	return p.backend.Poll()
}

// Attached reports the number of gamepad slots in use, capped at
// gpio.NumSlots. Haptic slots start at this index.
func (p *Provider) Attached() int {
	n := p.backend.Count()
	if n > gpio.NumSlots {
		n = gpio.NumSlots
	}
	return n
}

// Sync runs the mapping contract for one slot: populate
// rec's outgoing fields from the device bound to slot, and apply rec's
// incoming rumble bytes to the device. A device that has vanished clears
// its slot to the zero record rather than failing the sync loop.
func (p *Provider) Sync(slot int, rec *gpio.Gamepad) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dev := p.devices[slot]
	if dev == nil {
		d, err := p.backend.Open(slot)
		if err != nil {
			return err
		}
		dev = d
		p.devices[slot] = dev
		p.rumbleProbed[slot] = false
		p.rumbleDisabled[slot] = false
	}
	if dev == nil {
		*rec = gpio.Gamepad{}
		return nil
	}

	if err := dev.Refresh(); err != nil {
		p.clearSlotLocked(slot)
		*rec = gpio.Gamepad{}
		return nil
	}

	raw := dev.State()
	if !raw.Connected {
		p.clearSlotLocked(slot)
		*rec = gpio.Gamepad{}
		return nil
	}

	if !p.rumbleProbed[slot] {
		p.rumbleProbed[slot] = true
		if err := dev.SetRumble(0, 0); err != nil {
			p.rumbleDisabled[slot] = true
		}
	}

	mapping := raw.Mapping
	if m, ok := p.overrides.Lookup(raw.GUID); ok {
		mapping = m
	}

	flags := gpio.FlagConnected
	if hasMappingToken(mapping, "guide:") {
		flags |= gpio.FlagHasGuideBtn
	}
	if hasMappingToken(mapping, "misc1:") || hasMappingToken(mapping, "touchpad:") {
		flags |= gpio.FlagHasMiscBtn
	}
	if !p.rumbleDisabled[slot] {
		flags |= gpio.FlagHasRumble
	}

	lo, hi := rec.LoFreqRumble, rec.HiFreqRumble

	rec.Flags = flags
	rec.Battery = bucketBattery(raw.Battery)
	rec.Buttons = raw.Buttons
	rec.LeftTrigger = gpio.ScaleTrigger(raw.Axes.LeftTrigger)
	rec.RightTrigger = gpio.ScaleTrigger(raw.Axes.RightTrigger)
	rec.LeftStickX = raw.Axes.LeftX
	rec.LeftStickY = gpio.InvertStickY(raw.Axes.LeftY)
	rec.RightStickX = raw.Axes.RightX
	rec.RightStickY = gpio.InvertStickY(raw.Axes.RightY)

	if !p.rumbleDisabled[slot] {
		if err := dev.SetRumble(scaleRumble(lo), scaleRumble(hi)); err != nil {
			p.rumbleDisabled[slot] = true
		}
	}

	return nil
}

func (p *Provider) clearSlotLocked(slot int) {
	if dev := p.devices[slot]; dev != nil {
		dev.Close()
	}
	p.devices[slot] = nil
}

// Close releases every open device.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.devices {
		p.clearSlotLocked(i)
	}
	return nil
}

// scaleRumble expands an 8-bit rumble byte to the 0..65535 range most
// platform rumble APIs expect.
func scaleRumble(b byte) uint16 {
	return uint16(b) * 257
}

// bucketBattery maps an abstract 0..255 battery level to the four
// discrete values a record's battery byte can carry.
func bucketBattery(level byte) byte {
	switch {
	case level == 0:
		return gpio.BatteryAbsentOrWired
	case level < 85:
		return gpio.BatteryLow
	case level < 170:
		return gpio.BatteryMedium
	default:
		return gpio.BatteryFull
	}
}

// hasMappingToken reports whether an SDL GameControllerDB-style mapping
// string contains a comma-separated field starting with token.
func hasMappingToken(mapping, token string) bool {
	if mapping == "" {
		return false
	}
	for _, field := range strings.Split(mapping, ",") {
		if strings.HasPrefix(strings.TrimSpace(field), token) {
			return true
		}
	}
	return false
}
