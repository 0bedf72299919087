// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build windows

package gamepad

import (
	"fmt"
	"unsafe"

	"github.com/VyrCossont/pinput/gpio"
	"golang.org/x/sys/windows"
)

// XInput button bitmask values, from xinput.h's XINPUT_GAMEPAD_*.
const (
	xinputGamepadDPadUp    = 0x0001
	xinputGamepadDPadDown  = 0x0002
	xinputGamepadDPadLeft  = 0x0004
	xinputGamepadDPadRight = 0x0008
	xinputGamepadStart     = 0x0010
	xinputGamepadBack      = 0x0020
	xinputGamepadLThumb    = 0x0040
	xinputGamepadRThumb    = 0x0080
	xinputGamepadLShoulder = 0x0100
	xinputGamepadRShoulder = 0x0200
	xinputGamepadA         = 0x1000
	xinputGamepadB         = 0x2000
	xinputGamepadX         = 0x4000
	xinputGamepadY         = 0x8000

	errorSuccess            = 0
	errorDeviceNotConnected = 1167

	xuserMaxCount = 4
)

// xinputState mirrors XINPUT_STATE.
type xinputState struct {
	PacketNumber uint32
	Gamepad      xinputGamepad
}

// xinputGamepad mirrors XINPUT_GAMEPAD.
type xinputGamepad struct {
	Buttons      uint16
	LeftTrigger  byte
	RightTrigger byte
	ThumbLX      int16
	ThumbLY      int16
	ThumbRX      int16
	ThumbRY      int16
}

// xinputVibration mirrors XINPUT_VIBRATION.
type xinputVibration struct {
	LeftMotorSpeed  uint16
	RightMotorSpeed uint16
}

var (
	modxinput          = windows.NewLazySystemDLL("xinput1_4.dll")
	procXInputGetState = modxinput.NewProc("XInputGetState")
	procXInputSetState = modxinput.NewProc("XInputSetState")
)

// windowsBackend polls the XInput API's 4 fixed controller slots. XInput
// has no hot-plug enumeration call; "attached" is simply "the last
// XInputGetState call for this user index succeeded".
type windowsBackend struct {
	connected [xuserMaxCount]bool
}

// NewBackend returns the Windows gamepad Backend, built on XInput.
func NewBackend() Backend {
	return &windowsBackend{}
}

func (b *windowsBackend) Poll() error {
	for i := 0; i < xuserMaxCount; i++ {
		var state xinputState
		r1, _, _ := procXInputGetState.Call(uintptr(i), uintptr(unsafe.Pointer(&state)))
		b.connected[i] = r1 == errorSuccess
	}
	return nil
}

func (b *windowsBackend) Count() int {
	// XInput user indices are fixed; the attached count is the highest
	// connected index plus one so slot assignment stays index-stable.
	n := 0
	for i := 0; i < xuserMaxCount; i++ {
		if b.connected[i] {
			n = i + 1
		}
	}
	return n
}

func (b *windowsBackend) Open(idx int) (Device, error) {
	if idx < 0 || idx >= xuserMaxCount || !b.connected[idx] {
		return nil, nil
	}
	return &windowsDevice{userIndex: uint32(idx)}, nil
}

type windowsDevice struct {
	userIndex uint32
	state     RawState
}

func (d *windowsDevice) Refresh() error {
	var state xinputState
	r1, _, _ := procXInputGetState.Call(uintptr(d.userIndex), uintptr(unsafe.Pointer(&state)))
	if r1 != errorSuccess {
		d.state = RawState{}
		return fmt.Errorf("gamepad: XInputGetState(%d): error %d", d.userIndex, r1)
	}

	gp := state.Gamepad
	var buttons gpio.Buttons
	press := func(mask uint16, bit gpio.Buttons) {
		if gp.Buttons&mask != 0 {
			buttons |= bit
		}
	}
	press(xinputGamepadDPadUp, gpio.ButtonDPadUp)
	press(xinputGamepadDPadDown, gpio.ButtonDPadDown)
	press(xinputGamepadDPadLeft, gpio.ButtonDPadLeft)
	press(xinputGamepadDPadRight, gpio.ButtonDPadRight)
	press(xinputGamepadStart, gpio.ButtonStart)
	press(xinputGamepadBack, gpio.ButtonBack)
	press(xinputGamepadLThumb, gpio.ButtonLeftStick)
	press(xinputGamepadRThumb, gpio.ButtonRightStick)
	press(xinputGamepadLShoulder, gpio.ButtonLeftBumper)
	press(xinputGamepadRShoulder, gpio.ButtonRightBumper)
	press(xinputGamepadA, gpio.ButtonA)
	press(xinputGamepadB, gpio.ButtonB)
	press(xinputGamepadX, gpio.ButtonX)
	press(xinputGamepadY, gpio.ButtonY)

	d.state = RawState{
		Connected: true,
		Mapping:   "",
		Buttons:   buttons,
		Battery:   gpio.BatteryAbsentOrWired,
		Axes: RawAxes{
			LeftX:        gp.ThumbLX,
			LeftY:        gp.ThumbLY,
			RightX:       gp.ThumbRX,
			RightY:       gp.ThumbRY,
			LeftTrigger:  uint16(gp.LeftTrigger) << 8,
			RightTrigger: uint16(gp.RightTrigger) << 8,
		},
	}
	return nil
}

func (d *windowsDevice) State() RawState {
	return d.state
}

func (d *windowsDevice) SetRumble(lo, hi uint16) error {
	vib := xinputVibration{LeftMotorSpeed: lo, RightMotorSpeed: hi}
	r1, _, _ := procXInputSetState.Call(uintptr(d.userIndex), uintptr(unsafe.Pointer(&vib)))
	if r1 != errorSuccess {
		return fmt.Errorf("gamepad: XInputSetState(%d): error %d", d.userIndex, r1)
	}
	return nil
}

func (d *windowsDevice) Close() error {
	// XInput has no per-device handle to release; turn the motors off so a
	// dangling attachment doesn't leave a controller buzzing.
	_ = d.SetRumble(0, 0)
	return nil
}
