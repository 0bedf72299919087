// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gamepad

import (
	"errors"
	"testing"

	"github.com/VyrCossont/pinput/gpio"
)

func TestHasMappingToken(t *testing.T) {
	cases := []struct {
		mapping string
		token   string
		want    bool
	}{
		{"", "guide:", false},
		{"platform:Linux,a:b0,guide:b12,", "guide:", true},
		{"platform:Linux,a:b0,misc1:b13,", "misc1:", true},
		{"platform:Linux,a:b0,touchpad:b14,", "misc1:", false},
		{"platform:Linux,a:b0,touchpad:b14,", "touchpad:", true},
		{"platform:Linux,a:b0,", "guide:", false},
	}
	for _, c := range cases {
		if got := hasMappingToken(c.mapping, c.token); got != c.want {
			t.Errorf("hasMappingToken(%q, %q) = %v, want %v", c.mapping, c.token, got, c.want)
		}
	}
}

func TestBucketBattery(t *testing.T) {
	cases := []struct {
		level byte
		want  byte
	}{
		{0, gpio.BatteryAbsentOrWired},
		{1, gpio.BatteryLow},
		{84, gpio.BatteryLow},
		{85, gpio.BatteryMedium},
		{169, gpio.BatteryMedium},
		{170, gpio.BatteryFull},
		{255, gpio.BatteryFull},
	}
	for _, c := range cases {
		if got := bucketBattery(c.level); got != c.want {
			t.Errorf("bucketBattery(%d) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestScaleRumble(t *testing.T) {
	if got := scaleRumble(0); got != 0 {
		t.Errorf("scaleRumble(0) = %d, want 0", got)
	}
	if got := scaleRumble(255); got != 65535 {
		t.Errorf("scaleRumble(255) = %d, want 65535", got)
	}
}

// fakeDevice is an in-memory Device for exercising Provider.Sync without a
// real platform backend.
type fakeDevice struct {
	state      RawState
	rumbleErr  error
	lastLo     uint16
	lastHi     uint16
	rumbleCall int
	closed     bool
}

func (d *fakeDevice) Refresh() error  { return nil }
func (d *fakeDevice) State() RawState { return d.state }
func (d *fakeDevice) SetRumble(lo, hi uint16) error {
	d.rumbleCall++
	d.lastLo, d.lastHi = lo, hi
	return d.rumbleErr
}
func (d *fakeDevice) Close() error { d.closed = true; return nil }

type fakeBackend struct {
	devices map[int]*fakeDevice
}

func (b *fakeBackend) Poll() error { return nil }
func (b *fakeBackend) Count() int  { return len(b.devices) }
func (b *fakeBackend) Open(idx int) (Device, error) {
	d, ok := b.devices[idx]
	if !ok {
		return nil, nil
	}
	return d, nil
}

func TestProviderSyncMapping(t *testing.T) {
	dev := &fakeDevice{state: RawState{
		Connected: true,
		Mapping:   "platform:Linux,a:b0,guide:b12,misc1:b13,",
		Buttons:   gpio.ButtonA | gpio.ButtonStart,
		Battery:   200,
		Axes: RawAxes{
			LeftX: 1000, LeftY: 2000, RightX: -500, RightY: -1500,
			LeftTrigger: 0x7fff, RightTrigger: 0xffff,
		},
	}}
	backend := &fakeBackend{devices: map[int]*fakeDevice{0: dev}}
	p := NewProvider(backend)

	var rec gpio.Gamepad
	if err := p.Sync(0, &rec); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if rec.Flags&gpio.FlagConnected == 0 {
		t.Error("expected FlagConnected set")
	}
	if rec.Flags&gpio.FlagHasGuideBtn == 0 {
		t.Error("expected FlagHasGuideBtn set")
	}
	if rec.Flags&gpio.FlagHasMiscBtn == 0 {
		t.Error("expected FlagHasMiscBtn set")
	}
	if rec.Flags&gpio.FlagHasRumble == 0 {
		t.Error("expected FlagHasRumble set after a successful dry-run probe")
	}
	if rec.Battery != gpio.BatteryFull {
		t.Errorf("Battery = %d, want %d", rec.Battery, gpio.BatteryFull)
	}
	if rec.Buttons != dev.state.Buttons {
		t.Errorf("Buttons = %v, want %v", rec.Buttons, dev.state.Buttons)
	}
	if rec.LeftStickX != 1000 {
		t.Errorf("LeftStickX = %d, want 1000", rec.LeftStickX)
	}
	if rec.LeftStickY != gpio.InvertStickY(2000) {
		t.Errorf("LeftStickY = %d, want %d", rec.LeftStickY, gpio.InvertStickY(2000))
	}
	if rec.LeftTrigger != gpio.ScaleTrigger(0x7fff) {
		t.Errorf("LeftTrigger = %d, want %d", rec.LeftTrigger, gpio.ScaleTrigger(0x7fff))
	}
	// dry-run probe (0,0) then the real rumble write-back with rec's
	// incoming bytes, both zero since rec started zeroed.
	if dev.rumbleCall != 2 {
		t.Errorf("rumbleCall = %d, want 2", dev.rumbleCall)
	}
}

func TestProviderSyncRumbleFailureDisablesFlag(t *testing.T) {
	dev := &fakeDevice{
		state:     RawState{Connected: true, Buttons: gpio.ButtonA},
		rumbleErr: errors.New("no ff support"),
	}
	backend := &fakeBackend{devices: map[int]*fakeDevice{0: dev}}
	p := NewProvider(backend)

	var rec gpio.Gamepad
	if err := p.Sync(0, &rec); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rec.Flags&gpio.FlagHasRumble != 0 {
		t.Error("expected FlagHasRumble clear after a failed dry-run probe")
	}
}

func TestProviderSyncDisconnectClearsSlot(t *testing.T) {
	dev := &fakeDevice{state: RawState{Connected: true, Buttons: gpio.ButtonA}}
	backend := &fakeBackend{devices: map[int]*fakeDevice{0: dev}}
	p := NewProvider(backend)

	var rec gpio.Gamepad
	if err := p.Sync(0, &rec); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	dev.state = RawState{Connected: false}
	rec = gpio.Gamepad{Buttons: gpio.ButtonA}
	if err := p.Sync(0, &rec); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rec != (gpio.Gamepad{}) {
		t.Errorf("rec = %+v, want zero value after disconnect", rec)
	}
	if !dev.closed {
		t.Error("expected device Close on disconnect")
	}
}

func TestProviderSyncVacantSlot(t *testing.T) {
	backend := &fakeBackend{devices: map[int]*fakeDevice{}}
	p := NewProvider(backend)

	rec := gpio.Gamepad{Buttons: gpio.ButtonA}
	if err := p.Sync(3, &rec); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rec != (gpio.Gamepad{}) {
		t.Errorf("rec = %+v, want zero value for a vacant slot", rec)
	}
}

func TestProviderSyncMappingOverride(t *testing.T) {
	dev := &fakeDevice{state: RawState{
		Connected: true,
		GUID:      "03000000c82d00000660000011010000",
	}}
	backend := &fakeBackend{devices: map[int]*fakeDevice{0: dev}}
	p := NewProvider(backend)
	p.SetOverrides(Overrides{
		"03000000c82d00000660000011010000": "platform:Linux,a:b0,guide:b12,touchpad:b14,",
	})

	var rec gpio.Gamepad
	if err := p.Sync(0, &rec); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rec.Flags&gpio.FlagHasGuideBtn == 0 {
		t.Error("expected FlagHasGuideBtn from the override mapping")
	}
	if rec.Flags&gpio.FlagHasMiscBtn == 0 {
		t.Error("expected FlagHasMiscBtn from the override's touchpad token")
	}
}
