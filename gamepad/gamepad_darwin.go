// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build darwin

package gamepad

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/VyrCossont/pinput/gpio"
	"github.com/ebitengine/purego"
)

// IOKit/CoreFoundation usage page and usage constants for joystick/gamepad
// devices, from IOKit/hid/IOHIDUsageTables.h.
const (
	hidPageGenericDesktop = 0x01
	hidUsageJoystick      = 0x04
	hidUsageGamePad       = 0x05
	hidUsageMultiAxis     = 0x08

	hidPageButton = 0x09

	hidUsageX   = 0x30
	hidUsageY   = 0x31
	hidUsageZ   = 0x32
	hidUsageRX  = 0x33
	hidUsageRY  = 0x34
	hidUsageRZ  = 0x35
	hidUsageHat = 0x39

	ioHIDOptionsTypeNone = 0
)

var (
	darwinOnce sync.Once
	darwinErr  error

	cIOHIDManagerCreate              func(allocator uintptr, options uint32) uintptr
	cIOHIDManagerSetDeviceMatching   func(manager uintptr, matching uintptr)
	cIOHIDManagerOpen                func(manager uintptr, options uint32) int32
	cIOHIDManagerCopyDevices         func(manager uintptr) uintptr
	cIOHIDDeviceCopyMatchingElements func(device uintptr, matching uintptr, options uint32) uintptr
	cIOHIDElementGetUsage            func(element uintptr) uint32
	cIOHIDElementGetUsagePage        func(element uintptr) uint32
	cIOHIDElementGetLogicalMin       func(element uintptr) int64
	cIOHIDElementGetLogicalMax       func(element uintptr) int64
	cIOHIDDeviceGetValue             func(device uintptr, element uintptr, pValue *uintptr) int32
	cIOHIDValueGetIntegerValue       func(value uintptr) int64
	cIOHIDDeviceGetProperty          func(device uintptr, key uintptr) uintptr

	cCFArrayGetCount           func(arr uintptr) int64
	cCFArrayGetValueAtIndex    func(arr uintptr, idx int64) uintptr
	cCFStringCreateWithCString func(allocator uintptr, cstr *byte, encoding uint32) uintptr
	cCFStringGetCString        func(s uintptr, buf *byte, bufSize int64, encoding uint32) bool
	cCFNumberGetValue          func(num uintptr, typ int64, out unsafe.Pointer) bool
	cCFGetTypeID               func(obj uintptr) uint64
	cCFStringGetTypeID         func() uint64
	cCFNumberGetTypeID         func() uint64
)

func loadDarwinHID() error {
	darwinOnce.Do(func() {
		iokit, err := purego.Dlopen("/System/Library/Frameworks/IOKit.framework/IOKit", purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			darwinErr = fmt.Errorf("gamepad: dlopen IOKit: %w", err)
			return
		}
		cf, err := purego.Dlopen("/System/Library/Frameworks/CoreFoundation.framework/CoreFoundation", purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			darwinErr = fmt.Errorf("gamepad: dlopen CoreFoundation: %w", err)
			return
		}

		purego.RegisterLibFunc(&cIOHIDManagerCreate, iokit, "IOHIDManagerCreate")
		purego.RegisterLibFunc(&cIOHIDManagerSetDeviceMatching, iokit, "IOHIDManagerSetDeviceMatching")
		purego.RegisterLibFunc(&cIOHIDManagerOpen, iokit, "IOHIDManagerOpen")
		purego.RegisterLibFunc(&cIOHIDManagerCopyDevices, iokit, "IOHIDManagerCopyDevices")
		purego.RegisterLibFunc(&cIOHIDDeviceCopyMatchingElements, iokit, "IOHIDDeviceCopyMatchingElements")
		purego.RegisterLibFunc(&cIOHIDElementGetUsage, iokit, "IOHIDElementGetUsage")
		purego.RegisterLibFunc(&cIOHIDElementGetUsagePage, iokit, "IOHIDElementGetUsagePage")
		purego.RegisterLibFunc(&cIOHIDElementGetLogicalMin, iokit, "IOHIDElementGetLogicalMin")
		purego.RegisterLibFunc(&cIOHIDElementGetLogicalMax, iokit, "IOHIDElementGetLogicalMax")
		purego.RegisterLibFunc(&cIOHIDDeviceGetValue, iokit, "IOHIDDeviceGetValue")
		purego.RegisterLibFunc(&cIOHIDValueGetIntegerValue, iokit, "IOHIDValueGetIntegerValue")
		purego.RegisterLibFunc(&cIOHIDDeviceGetProperty, iokit, "IOHIDDeviceGetProperty")

		purego.RegisterLibFunc(&cCFArrayGetCount, cf, "CFArrayGetCount")
		purego.RegisterLibFunc(&cCFArrayGetValueAtIndex, cf, "CFArrayGetValueAtIndex")
		purego.RegisterLibFunc(&cCFStringCreateWithCString, cf, "CFStringCreateWithCString")
		purego.RegisterLibFunc(&cCFStringGetCString, cf, "CFStringGetCString")
		purego.RegisterLibFunc(&cCFNumberGetValue, cf, "CFNumberGetValue")
		purego.RegisterLibFunc(&cCFGetTypeID, cf, "CFGetTypeID")
		purego.RegisterLibFunc(&cCFStringGetTypeID, cf, "CFStringGetTypeID")
		purego.RegisterLibFunc(&cCFNumberGetTypeID, cf, "CFNumberGetTypeID")
	})
	return darwinErr
}

// darwinBackend enumerates attached joystick/gamepad HID devices through
// IOHIDManager, bound at runtime with purego the same way procmem_darwin.go
// binds libproc and the Mach VM calls.
type darwinBackend struct {
	manager uintptr
	devices []uintptr
}

// NewBackend returns the macOS gamepad Backend, built on IOKit's HID
// Manager.
func NewBackend() Backend {
	return &darwinBackend{}
}

func (b *darwinBackend) ensureManager() error {
	if b.manager != 0 {
		return nil
	}
	if err := loadDarwinHID(); err != nil {
		return err
	}
	b.manager = cIOHIDManagerCreate(0, ioHIDOptionsTypeNone)
	if b.manager == 0 {
		return fmt.Errorf("gamepad: IOHIDManagerCreate failed")
	}
	// A nil device-matching dictionary means "match everything", which
	// keeps this binding free of CFDictionary construction. Poll does not
	// filter by usage page/usage; Open discards devices without X/Y axes.
	cIOHIDManagerSetDeviceMatching(b.manager, 0)
	if kr := cIOHIDManagerOpen(b.manager, ioHIDOptionsTypeNone); kr != 0 {
		return fmt.Errorf("gamepad: IOHIDManagerOpen failed: %d", kr)
	}
	return nil
}

func (b *darwinBackend) Poll() error {
	if err := b.ensureManager(); err != nil {
		return err
	}
	set := cIOHIDManagerCopyDevices(b.manager)
	if set == 0 {
		b.devices = nil
		return nil
	}
	n := cCFArrayGetCount(set)
	devices := make([]uintptr, 0, n)
	for i := int64(0); i < n; i++ {
		dev := cCFArrayGetValueAtIndex(set, i)
		if isGamepadUsage(dev) {
			devices = append(devices, dev)
		}
	}
	b.devices = devices
	return nil
}

// isGamepadUsage accepts every non-nil device; it does not read the
// device's primary usage page/usage, so non-game HID devices also take a
// platform index here.
func isGamepadUsage(dev uintptr) bool {
	// Without a cached device-matching dictionary, every device IOHID
	// enumerates is accepted here; Open()'s element scan discards
	// anything lacking X/Y axes, which in practice excludes keyboards and
	// other non-game HID devices.
	return dev != 0
}

func (b *darwinBackend) Count() int {
	return len(b.devices)
}

func (b *darwinBackend) Open(idx int) (Device, error) {
	if idx < 0 || idx >= len(b.devices) {
		return nil, nil
	}
	dev := b.devices[idx]
	elements := scanElements(dev)
	if elements.x == 0 && elements.y == 0 {
		return nil, nil // not a game controller
	}
	return &darwinDevice{dev: dev, elements: elements}, nil
}

// hidElements caches the HID element handles for the axes and buttons a
// record cares about, resolved once per attach via
// IOHIDDeviceCopyMatchingElements.
type hidElements struct {
	x, y, rx, ry, z, rz uintptr
	buttons             map[int]uintptr // 1-based HID button usage -> element
}

func scanElements(dev uintptr) hidElements {
	var el hidElements
	el.buttons = make(map[int]uintptr)

	arr := cIOHIDDeviceCopyMatchingElements(dev, 0, 0)
	if arr == 0 {
		return el
	}
	n := cCFArrayGetCount(arr)
	for i := int64(0); i < n; i++ {
		e := cCFArrayGetValueAtIndex(arr, i)
		page := cIOHIDElementGetUsagePage(e)
		usage := cIOHIDElementGetUsage(e)
		switch page {
		case hidPageGenericDesktop:
			switch usage {
			case hidUsageX:
				el.x = e
			case hidUsageY:
				el.y = e
			case hidUsageRX:
				el.rx = e
			case hidUsageRY:
				el.ry = e
			case hidUsageZ:
				el.z = e
			case hidUsageRZ:
				el.rz = e
			}
		case hidPageButton:
			el.buttons[int(usage)] = e
		}
	}
	return el
}

type darwinDevice struct {
	dev      uintptr
	elements hidElements
	state    RawState
}

// readElement returns the current integer value and logical range of a
// cached HID element, or (0,0,0,false) if unavailable.
func readElement(dev, element uintptr) (value, min, max int64, ok bool) {
	if element == 0 {
		return 0, 0, 0, false
	}
	var v uintptr
	if kr := cIOHIDDeviceGetValue(dev, element, &v); kr != 0 || v == 0 {
		return 0, 0, 0, false
	}
	return cIOHIDValueGetIntegerValue(v), cIOHIDElementGetLogicalMin(element), cIOHIDElementGetLogicalMax(element), true
}

// readAxis normalizes a cached axis element into the record's signed
// 16-bit stick range.
func readAxis(dev, element uintptr) int16 {
	v, min, max, ok := readElement(dev, element)
	if !ok || max == min {
		return 0
	}
	frac := float64(v-min)/float64(max-min)*2 - 1
	return int16(frac * 32767)
}

// readTriggerAxis normalizes a cached axis element into the record's
// unsigned 16-bit trigger range.
func readTriggerAxis(dev, element uintptr) uint16 {
	v, min, max, ok := readElement(dev, element)
	if !ok || max == min {
		return 0
	}
	frac := float64(v-min) / float64(max-min)
	return uint16(frac * 65535)
}

func (d *darwinDevice) Refresh() error {
	var buttons gpio.Buttons
	pressed := func(usage int) bool {
		el, ok := d.elements.buttons[usage]
		if !ok {
			return false
		}
		v, _, _, ok := readElement(d.dev, el)
		return ok && v != 0
	}
	// HID button usages 1-6 are read as A,B,X,Y,LB,RB and usages 9-13 as
	// back,start,LS,RS,guide; usages 7 and 8 are not read.
	if pressed(1) {
		buttons |= gpio.ButtonA
	}
	if pressed(2) {
		buttons |= gpio.ButtonB
	}
	if pressed(3) {
		buttons |= gpio.ButtonX
	}
	if pressed(4) {
		buttons |= gpio.ButtonY
	}
	if pressed(5) {
		buttons |= gpio.ButtonLeftBumper
	}
	if pressed(6) {
		buttons |= gpio.ButtonRightBumper
	}
	if pressed(9) {
		buttons |= gpio.ButtonBack
	}
	if pressed(10) {
		buttons |= gpio.ButtonStart
	}
	if pressed(11) {
		buttons |= gpio.ButtonLeftStick
	}
	if pressed(12) {
		buttons |= gpio.ButtonRightStick
	}
	if pressed(13) {
		buttons |= gpio.ButtonGuide
	}

	d.state = RawState{
		Connected: true,
		Mapping:   "",
		Buttons:   buttons,
		Battery:   gpio.BatteryAbsentOrWired,
		Axes: RawAxes{
			LeftX:        readAxis(d.dev, d.elements.x),
			LeftY:        readAxis(d.dev, d.elements.y),
			RightX:       readAxis(d.dev, d.elements.rx),
			RightY:       readAxis(d.dev, d.elements.ry),
			LeftTrigger:  readTriggerAxis(d.dev, d.elements.z),
			RightTrigger: readTriggerAxis(d.dev, d.elements.rz),
		},
	}
	return nil
}

func (d *darwinDevice) State() RawState {
	return d.state
}

// SetRumble is a no-op: IOHIDManager's low-level HID element API does not
// expose force-feedback output reports in a device-independent way, and
// the vendor-specific report layout for each controller family is out of
// scope here. HAS_RUMBLE consequently stays unset for every macOS device,
// which is the correct consequence of SetRumble always failing the
// dry-run rumble probe.
func (d *darwinDevice) SetRumble(lo, hi uint16) error {
	return fmt.Errorf("gamepad: rumble not supported on this platform")
}

func (d *darwinDevice) Close() error {
	return nil
}
