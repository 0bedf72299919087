// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pinput

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/VyrCossont/pinput/gamepad"
	"github.com/VyrCossont/pinput/gpio"
	"github.com/VyrCossont/pinput/haptic"
)

type testDevice struct {
	state   gamepad.RawState
	rumbles [][2]uint16
}

func (d *testDevice) Refresh() error          { return nil }
func (d *testDevice) State() gamepad.RawState { return d.state }
func (d *testDevice) Close() error            { return nil }
func (d *testDevice) SetRumble(lo, hi uint16) error {
	d.rumbles = append(d.rumbles, [2]uint16{lo, hi})
	return nil
}

type testBackend struct {
	devices []*testDevice
}

func (b *testBackend) Poll() error { return nil }
func (b *testBackend) Count() int  { return len(b.devices) }
func (b *testBackend) Open(idx int) (gamepad.Device, error) {
	if idx < 0 || idx >= len(b.devices) {
		return nil, nil
	}
	return b.devices[idx], nil
}

func testEngine(backend *testBackend, procs ...*fakeProc) (*Engine, *fakeOracle) {
	det, oracle := fixtures(procs...)
	return &Engine{
		Detector:     det,
		Oracle:       oracle,
		Gamepads:     gamepad.NewProvider(backend),
		Haptics:      haptic.Noop{},
		ScanInterval: time.Millisecond,
		FramePeriod:  time.Millisecond,
	}, oracle
}

func connect(t *testing.T, e *Engine) *RuntimeConnection {
	t.Helper()
	conn, err := TryNew(e.Detector, e.Oracle)
	if err != nil {
		t.Fatalf("TryNew: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// engagedConn builds a connection to an already-engaged runtime: the magic
// is long overwritten (its bytes coincide with slot 0's record), so the
// scan in TryNew can't be used to find the base.
func engagedConn(t *testing.T, oracle *fakeOracle, proc *fakeProc, base uint64) *RuntimeConnection {
	t.Helper()
	h, err := oracle.Open(proc.pid)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	conn := &RuntimeConnection{Pid: proc.pid, Flavor: proc.flavor, handle: h, gpioBase: base}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestSyncTickInitialMagic: the first tick after discovery reads the
// magic still in place and publishes a zero array over it.
func TestSyncTickInitialMagic(t *testing.T) {
	proc := newWasm4Proc(1, 4096)
	base := proc.regions[0].Start + 0x100
	proc.placeMagic(base)
	e, _ := testEngine(&testBackend{}, proc)
	conn := connect(t, e)

	if err := e.syncTick(conn); err != nil {
		t.Fatalf("syncTick: %v", err)
	}
	got := proc.bytesAt(base, gpio.ArraySize)
	if !bytes.Equal(got, make([]byte, gpio.ArraySize)) {
		t.Errorf("after first tick, gpio = %x, want all zeros", got)
	}
}

// TestSyncTickCartridgeRestart: the magic reappearing mid-run means the
// cartridge reloaded; the next tick must start from a zero array, refilling
// only attached slots on top of it, and the tick after reads the array
// back as usual.
func TestSyncTickCartridgeRestart(t *testing.T) {
	proc := newWasm4Proc(1, 4096)
	base := proc.regions[0].Start
	proc.placeMagic(base)
	dev := &testDevice{state: gamepad.RawState{Connected: true, Buttons: gpio.ButtonA}}
	e, _ := testEngine(&testBackend{devices: []*testDevice{dev}}, proc)
	conn := connect(t, e)

	if err := e.syncTick(conn); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	// Cartridge reload: the magic reappears.
	proc.placeMagic(base)
	if err := e.syncTick(conn); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	// The restart tick publishes a zero base image; only the connected
	// slot is refilled on top of it.
	img := gpio.UnmarshalArray(proc.bytesAt(base, gpio.ArraySize))
	for slot := 1; slot < gpio.NumSlots; slot++ {
		if img[slot] != (gpio.Gamepad{}) {
			t.Errorf("slot %d = %+v, want zero after restart", slot, img[slot])
		}
	}

	if err := e.syncTick(conn); err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	img = gpio.UnmarshalArray(proc.bytesAt(base, gpio.ArraySize))
	if img[0].Flags&gpio.FlagConnected == 0 || img[0].Buttons != gpio.ButtonA {
		t.Errorf("slot 0 = %+v, want connected with A held", img[0])
	}
}

// TestSyncTickOneGamepad: a connected pad with A held publishes the
// connected flag and exactly the A button bit, and preserves the
// cartridge's rumble bytes in the written image.
func TestSyncTickOneGamepad(t *testing.T) {
	proc := newWasm4Proc(1, 4096)
	base := proc.regions[0].Start
	// Post-engagement state: magic already overwritten, cartridge has
	// written rumble bytes into slot 0.
	img := proc.bytesAt(base, gpio.ArraySize)
	img[14] = 0x21
	img[15] = 0x42

	dev := &testDevice{state: gamepad.RawState{Connected: true, Buttons: gpio.ButtonA}}
	e, oracle := testEngine(&testBackend{devices: []*testDevice{dev}}, proc)
	conn := engagedConn(t, oracle, proc, base)

	if err := e.syncTick(conn); err != nil {
		t.Fatalf("syncTick: %v", err)
	}

	got := gpio.UnmarshalGamepad(proc.bytesAt(base, gpio.RecordSize))
	if got.Flags&gpio.FlagConnected == 0 {
		t.Error("expected FlagConnected in slot 0")
	}
	if got.Buttons != gpio.ButtonA {
		t.Errorf("Buttons = %#04x, want %#04x", uint16(got.Buttons), uint16(gpio.ButtonA))
	}
	if got.LeftStickX != 0 || got.LeftTrigger != 0 {
		t.Error("sticks and triggers must stay zero for an idle pad")
	}
	if got.LoFreqRumble != 0x21 || got.HiFreqRumble != 0x42 {
		t.Errorf("rumble = %#02x/%#02x, want cartridge bytes preserved", got.LoFreqRumble, got.HiFreqRumble)
	}
}

// TestSyncTickRumbleRoundTrip: rumble bytes written by the cartridge are
// scaled 0..255 -> 0..65535 and submitted to the device.
func TestSyncTickRumbleRoundTrip(t *testing.T) {
	proc := newWasm4Proc(1, 4096)
	base := proc.regions[0].Start
	img := proc.bytesAt(base, gpio.ArraySize)
	img[14] = 0x80
	img[15] = 0xff

	dev := &testDevice{state: gamepad.RawState{Connected: true}}
	e, oracle := testEngine(&testBackend{devices: []*testDevice{dev}}, proc)
	conn := engagedConn(t, oracle, proc, base)

	if err := e.syncTick(conn); err != nil {
		t.Fatalf("syncTick: %v", err)
	}

	// First call is the dry-run probe, second is the write-back.
	if len(dev.rumbles) != 2 {
		t.Fatalf("rumble calls = %d, want 2", len(dev.rumbles))
	}
	if dev.rumbles[0] != [2]uint16{0, 0} {
		t.Errorf("probe rumble = %v, want {0, 0}", dev.rumbles[0])
	}
	if dev.rumbles[1] != [2]uint16{0x8080, 0xffff} {
		t.Errorf("rumble = {%#04x, %#04x}, want {0x8080, 0xffff}",
			dev.rumbles[1][0], dev.rumbles[1][1])
	}
}

// TestSyncTickIdempotent: with no device or cartridge change, two ticks
// write the same byte image.
func TestSyncTickIdempotent(t *testing.T) {
	proc := newWasm4Proc(1, 4096)
	base := proc.regions[0].Start
	proc.placeMagic(base)
	dev := &testDevice{state: gamepad.RawState{
		Connected: true,
		Buttons:   gpio.ButtonX | gpio.ButtonDPadLeft,
		Axes:      gamepad.RawAxes{LeftX: 123, LeftY: -456, LeftTrigger: 0x2000},
	}}
	e, _ := testEngine(&testBackend{devices: []*testDevice{dev}}, proc)
	conn := connect(t, e)

	// Skip past the initial-magic tick so both compared ticks start from
	// identical state.
	if err := e.syncTick(conn); err != nil {
		t.Fatalf("tick 0: %v", err)
	}
	if err := e.syncTick(conn); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	first := append([]byte(nil), proc.bytesAt(base, gpio.ArraySize)...)
	if err := e.syncTick(conn); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	second := proc.bytesAt(base, gpio.ArraySize)
	if !bytes.Equal(first, second) {
		t.Errorf("tick images differ:\n%x\n%x", first, second)
	}
}

// TestRunRescanAfterExit: a remote I/O failure ends the sync loop and the
// scan loop keeps retrying; cancellation then exits Run cleanly.
func TestRunRescanAfterExit(t *testing.T) {
	proc := newWasm4Proc(1, 4096)
	proc.placeMagic(proc.regions[0].Start)
	e, oracle := testEngine(&testBackend{}, proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Give the engine time to connect and tick, then kill the process.
	time.Sleep(20 * time.Millisecond)
	proc.exited = true
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	if len(oracle.handles) == 0 || !oracle.handles[0].closed {
		t.Error("expected the dead connection's handle to be closed")
	}
}

// TestSyncTickHapticSlots: haptic devices fill slots after the attached
// gamepads.
func TestSyncTickHapticSlots(t *testing.T) {
	proc := newWasm4Proc(1, 4096)
	base := proc.regions[0].Start
	pad := &testDevice{state: gamepad.RawState{Connected: true}}
	e, oracle := testEngine(&testBackend{devices: []*testDevice{pad}}, proc)
	e.Haptics = &staticHaptics{devices: []haptic.Device{
		&staticHapticDevice{snap: haptic.DeviceSnapshot{
			Actuators:  []haptic.Actuator{{}, {}},
			HasBattery: true,
		}},
	}}
	conn := engagedConn(t, oracle, proc, base)

	if err := e.syncTick(conn); err != nil {
		t.Fatalf("syncTick: %v", err)
	}
	img := gpio.UnmarshalArray(proc.bytesAt(base, gpio.ArraySize))
	if img[0].Flags&gpio.FlagHapticDevice != 0 {
		t.Error("slot 0 must be the gamepad, not the haptic device")
	}
	if img[1].Flags&gpio.FlagHapticDevice == 0 || img[1].Flags&gpio.FlagConnected == 0 {
		t.Errorf("slot 1 flags = %#02x, want haptic|connected", byte(img[1].Flags))
	}
}

type staticHaptics struct {
	devices []haptic.Device
}

func (s *staticHaptics) Devices() []haptic.Device { return s.devices }

type staticHapticDevice struct {
	snap   haptic.DeviceSnapshot
	speeds []float64
}

func (d *staticHapticDevice) Snapshot() haptic.DeviceSnapshot { return d.snap }
func (d *staticHapticDevice) SetVibration(speeds []float64)   { d.speeds = speeds }
func (d *staticHapticDevice) Close() error                    { return nil }
