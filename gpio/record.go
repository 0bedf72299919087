// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpio defines the wire format Pinput writes into a runtime's
// 128-byte GPIO memory region: the PinputMagic sentinel and the 8-slot
// PinputGamepad array. These types are an ABI — byte-for-byte, with no
// padding or reordering — so marshaling goes through explicit byte offsets
// rather than Go struct layout, and callers only ever hold value copies of
// a record, never a pointer into a remote process's memory image.
package gpio

import "encoding/binary"

// Flags is the PinputGamepadFlags bitfield (offset 0 of a record).
type Flags uint8

const (
	FlagConnected    Flags = 1 << 0
	FlagHasBattery   Flags = 1 << 1
	FlagCharging     Flags = 1 << 2
	FlagHasGuideBtn  Flags = 1 << 3
	FlagHasMiscBtn   Flags = 1 << 4
	FlagHasRumble    Flags = 1 << 5
	FlagHapticDevice Flags = 1 << 6
	// bit 7 is reserved.
)

// Buttons is the PinputGamepadButtons bitfield (offset 2-3 of a record,
// little-endian).
type Buttons uint16

const (
	ButtonDPadUp Buttons = 1 << iota
	ButtonDPadDown
	ButtonDPadLeft
	ButtonDPadRight
	ButtonStart
	ButtonBack
	ButtonLeftStick
	ButtonRightStick
	ButtonLeftBumper
	ButtonRightBumper
	ButtonGuide
	ButtonMisc
	ButtonA
	ButtonB
	ButtonX
	ButtonY
)

// Battery level buckets used by the gamepad provider's battery mapping:
// {absent/wired, low, medium, full}.
const (
	BatteryAbsentOrWired byte = 0
	BatteryLow           byte = 85
	BatteryMedium        byte = 170
	BatteryFull          byte = 255
)

// Gamepad is the in-memory form of one PinputGamepad record: 16 bytes,
// packed, fixed field order.
type Gamepad struct {
	Flags        Flags
	Battery      byte
	Buttons      Buttons
	LeftTrigger  byte
	RightTrigger byte
	LeftStickX   int16
	LeftStickY   int16
	RightStickX  int16
	RightStickY  int16
	LoFreqRumble byte
	HiFreqRumble byte
}

// RecordSize is the width in bytes of one Gamepad record.
const RecordSize = 16

// NumSlots is the number of PinputGamepad records in a GPIO image, and the
// maximum number of gamepad + haptic slots the sync engine can populate.
const NumSlots = 8

// ArraySize is the width in bytes of the full 8-slot GPIO image.
const ArraySize = RecordSize * NumSlots

// Marshal writes the record's 16 bytes to b, which must be at least
// RecordSize long.
func (g Gamepad) Marshal(b []byte) {
	_ = b[RecordSize-1]
	b[0] = byte(g.Flags)
	b[1] = g.Battery
	binary.LittleEndian.PutUint16(b[2:4], uint16(g.Buttons))
	b[4] = g.LeftTrigger
	b[5] = g.RightTrigger
	binary.LittleEndian.PutUint16(b[6:8], uint16(g.LeftStickX))
	binary.LittleEndian.PutUint16(b[8:10], uint16(g.LeftStickY))
	binary.LittleEndian.PutUint16(b[10:12], uint16(g.RightStickX))
	binary.LittleEndian.PutUint16(b[12:14], uint16(g.RightStickY))
	b[14] = g.LoFreqRumble
	b[15] = g.HiFreqRumble
}

// UnmarshalGamepad reads one 16-byte record from b, which must be at least
// RecordSize long.
func UnmarshalGamepad(b []byte) Gamepad {
	_ = b[RecordSize-1]
	return Gamepad{
		Flags:        Flags(b[0]),
		Battery:      b[1],
		Buttons:      Buttons(binary.LittleEndian.Uint16(b[2:4])),
		LeftTrigger:  b[4],
		RightTrigger: b[5],
		LeftStickX:   int16(binary.LittleEndian.Uint16(b[6:8])),
		LeftStickY:   int16(binary.LittleEndian.Uint16(b[8:10])),
		RightStickX:  int16(binary.LittleEndian.Uint16(b[10:12])),
		RightStickY:  int16(binary.LittleEndian.Uint16(b[12:14])),
		LoFreqRumble: b[14],
		HiFreqRumble: b[15],
	}
}

// Array is 8 contiguous Gamepad records, decoded from (and encoded back to)
// the 128-byte GPIO image.
type Array [NumSlots]Gamepad

// Marshal writes all 8 records to b, which must be at least ArraySize long.
func (a Array) Marshal(b []byte) {
	_ = b[ArraySize-1]
	for i, g := range a {
		g.Marshal(b[i*RecordSize : (i+1)*RecordSize])
	}
}

// UnmarshalArray reads all 8 records from b, which must be at least
// ArraySize long.
func UnmarshalArray(b []byte) Array {
	_ = b[ArraySize-1]
	var a Array
	for i := range a {
		a[i] = UnmarshalGamepad(b[i*RecordSize : (i+1)*RecordSize])
	}
	return a
}

// InvertStickY maps stick Y values: bitwise NOT, not
// arithmetic negation, so that math.MinInt16 maps to math.MaxInt16 exactly
// instead of overflowing. Converts the upstream Y-down convention to the
// record's Y-up convention.
func InvertStickY(y int16) int16 {
	return ^y
}

// triggerDivisor is the exact trigger downscale divisor. Keep it at 0x81:
// the top of the raw positive range then lands exactly on 255.
const triggerDivisor = 0x81

// ScaleTrigger downscales a raw 16-bit unsigned trigger value (as reported
// by most desktop gamepad APIs) to the record's 0..255 range. The division
// rounds up (0x7FFF downscales to exactly 255, not 254), saturating at the
// upper bound for any raw value above the 0..255 scale's top.
func ScaleTrigger(raw uint16) byte {
	v := (int(raw) + triggerDivisor - 1) / triggerDivisor
	if v > 255 {
		v = 255
	}
	return byte(v)
}
