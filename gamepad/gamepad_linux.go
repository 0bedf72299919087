// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package gamepad

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"unsafe"

	"github.com/VyrCossont/pinput/gpio"
	"golang.org/x/sys/unix"
)

// Linux evdev event and code constants, from linux/input-event-codes.h.
// golang.org/x/sys/unix does not wrap these (they are not syscall-layer
// constants), so they are named directly.
const (
	evKey = 0x01
	evAbs = 0x03
	evFF  = 0x15

	btnSouth  = 0x130
	btnEast   = 0x131
	btnNorth  = 0x133
	btnWest   = 0x134
	btnTL     = 0x136
	btnTR     = 0x137
	btnSelect = 0x13a
	btnStart  = 0x13b
	btnMode   = 0x13c
	btnThumbL = 0x13d
	btnThumbR = 0x13e

	btnDPadUp    = 0x220
	btnDPadDown  = 0x221
	btnDPadLeft  = 0x222
	btnDPadRight = 0x223

	absX     = 0x00
	absY     = 0x01
	absZ     = 0x02
	absRX    = 0x03
	absRY    = 0x04
	absRZ    = 0x05
	absHat0X = 0x10
	absHat0Y = 0x11

	keyCnt = 0x2ff + 1
	absCnt = 0x3f + 1

	ffRumble = 0x50
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	const (
		iocWrite  = 1
		iocRead   = 2
		numBits   = 8
		typeBits  = 8
		sizeBits  = 14
		numShift  = 0
		typeShift = numShift + numBits
		sizeShift = typeShift + typeBits
		dirShift  = sizeShift + sizeBits
	)
	return (dir << dirShift) | (typ << typeShift) | (nr << numShift) | (size << sizeShift)
}

func eviocgbit(ev, length uintptr) uintptr {
	return ioc(2, 'E', 0x20+ev, length)
}

func eviocgabs(abs uintptr) uintptr {
	return ioc(2, 'E', 0x40+abs, unsafe.Sizeof(inputAbsInfo{}))
}

func eviocgid() uintptr {
	return ioc(2, 'E', 0x02, unsafe.Sizeof(inputID{}))
}

func eviocgname(length uintptr) uintptr {
	return ioc(2, 'E', 0x06, length)
}

func eviocsff() uintptr {
	return ioc(1, 'E', 0x80, unsafe.Sizeof(ffEffect{}))
}

func eviocrmff() uintptr {
	return ioc(1, 'E', 0x81, unsafe.Sizeof(int32(0)))
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// inputID mirrors linux/input.h's struct input_id.
type inputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// inputAbsInfo mirrors linux/input.h's struct input_absinfo.
type inputAbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// inputEvent mirrors linux/input.h's struct input_event on 64-bit systems
// (16 bytes of timeval, then type/code/value).
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// ffEffect mirrors linux/input.h's struct ff_effect with the effect union
// fixed to its FF_RUMBLE member. The union is 8-byte aligned and sized for
// its largest member (ff_periodic_effect), and EVIOCSFF encodes the full
// struct size, so the padding must match the kernel's layout exactly.
type ffEffect struct {
	Type            uint16
	ID              int16
	Direction       uint16
	TriggerButton   uint16
	TriggerInterval uint16
	ReplayLength    uint16
	ReplayDelay     uint16
	_               uint16
	StrongMagnitude uint16
	WeakMagnitude   uint16
	_               [28]byte
}

var evdevReEvent = regexp.MustCompile(`^event[0-9]+$`)

func isBitSet(bits []byte, bit int) bool {
	return bits[bit/8]&(1<<(uint(bit)%8)) != 0
}

// linuxBackend enumerates /dev/input/event* nodes that advertise both key
// and absolute-axis events, the evdev signature of a gamepad.
type linuxBackend struct {
	paths []string // stable slot index -> device node path, sorted
}

// NewBackend returns the Linux gamepad Backend, built on evdev.
func NewBackend() Backend {
	return &linuxBackend{}
}

func (b *linuxBackend) Poll() error {
	ents, err := os.ReadDir("/dev/input")
	if err != nil {
		if os.IsNotExist(err) {
			b.paths = nil
			return nil
		}
		return fmt.Errorf("gamepad: reading /dev/input: %w", err)
	}

	var paths []string
	for _, ent := range ents {
		if ent.IsDir() || !evdevReEvent.MatchString(ent.Name()) {
			continue
		}
		path := filepath.Join("/dev/input", ent.Name())
		if looksLikeGamepad(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	b.paths = paths
	return nil
}

// looksLikeGamepad opens path read-only just long enough to check that it
// advertises both EV_KEY and EV_ABS.
func looksLikeGamepad(path string) bool {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)

	evBits := make([]byte, 4)
	if err := ioctl(fd, eviocgbit(0, uintptr(len(evBits))), unsafe.Pointer(&evBits[0])); err != nil {
		return false
	}
	return isBitSet(evBits, evKey) && isBitSet(evBits, evAbs)
}

func (b *linuxBackend) Count() int {
	return len(b.paths)
}

func (b *linuxBackend) Open(idx int) (Device, error) {
	if idx < 0 || idx >= len(b.paths) {
		return nil, nil
	}
	path := b.paths[idx]

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
		if err != nil {
			return nil, nil // gone, or a permission race; not fatal
		}
	}

	dev := &linuxDevice{fd: fd, path: path}
	dev.probeID()
	dev.probeName()
	dev.probeAxes()
	return dev, nil
}

type linuxDevice struct {
	fd      int
	path    string
	name    string
	guid    string
	hasAbs  map[int]bool
	ffID    int16
	ffReady bool

	state RawState
}

// probeID reads the device's bus/vendor/product/version identity and
// renders it in SDL's 32-hex-digit GUID layout, so --gamepad-mappings
// files can use the same keys as SDL_GameControllerDB.
func (d *linuxDevice) probeID() {
	var id inputID
	if err := ioctl(d.fd, eviocgid(), unsafe.Pointer(&id)); err != nil {
		return
	}
	le16 := func(v uint16) string {
		return fmt.Sprintf("%02x%02x", byte(v), byte(v>>8))
	}
	d.guid = le16(id.BusType) + "0000" + le16(id.Vendor) + "0000" +
		le16(id.Product) + "0000" + le16(id.Version) + "0000"
}

func (d *linuxDevice) probeName() {
	buf := make([]byte, 256)
	if err := ioctl(d.fd, eviocgname(uintptr(len(buf))), unsafe.Pointer(&buf[0])); err == nil {
		if i := bytes.IndexByte(buf, 0); i != -1 {
			buf = buf[:i]
		}
		d.name = string(buf)
	}
}

func (d *linuxDevice) probeAxes() {
	absBits := make([]byte, (absCnt+7)/8)
	if err := ioctl(d.fd, eviocgbit(evAbs, uintptr(len(absBits))), unsafe.Pointer(&absBits[0])); err != nil {
		return
	}
	d.hasAbs = make(map[int]bool)
	for code := 0; code < absCnt; code++ {
		if isBitSet(absBits, code) {
			d.hasAbs[code] = true
		}
	}
}

func (d *linuxDevice) readAbs(code int) int32 {
	if !d.hasAbs[code] {
		return 0
	}
	var info inputAbsInfo
	if err := ioctl(d.fd, eviocgabs(uintptr(code)), unsafe.Pointer(&info)); err != nil {
		return 0
	}
	return normalizeAxis(info)
}

// normalizeAxis rescales a raw abs value into the record's signed 16-bit
// stick range, preserving sign and center per the device's reported
// minimum/maximum.
func normalizeAxis(info inputAbsInfo) int32 {
	span := info.Maximum - info.Minimum
	if span == 0 {
		return 0
	}
	centered := float64(info.Value-info.Minimum)/float64(span)*2 - 1
	return int32(centered * 32767)
}

// readTrigger rescales a raw abs value (commonly 0..255 on Linux) into the
// unsigned 16-bit range ScaleTrigger expects.
func (d *linuxDevice) readTrigger(code int) uint16 {
	if !d.hasAbs[code] {
		return 0
	}
	var info inputAbsInfo
	if err := ioctl(d.fd, eviocgabs(uintptr(code)), unsafe.Pointer(&info)); err != nil {
		return 0
	}
	span := info.Maximum - info.Minimum
	if span == 0 {
		return 0
	}
	frac := float64(info.Value-info.Minimum) / float64(span)
	return uint16(frac * 65535)
}

func (d *linuxDevice) Refresh() error {
	// Drain pending input_event records; evdev devices are non-blocking,
	// so EAGAIN just means "nothing new this tick".
	buf := make([]byte, unsafe.Sizeof(inputEvent{}))
	for {
		n, err := unix.Read(d.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.ENODEV {
				return err
			}
			break
		}
		if n < len(buf) {
			break
		}
	}

	keyBits := make([]byte, (keyCnt+7)/8)
	const evIOCGKEYBase = 0x18
	if err := ioctl(d.fd, ioc(2, 'E', evIOCGKEYBase, uintptr(len(keyBits))), unsafe.Pointer(&keyBits[0])); err != nil {
		return err
	}

	var buttons gpio.Buttons
	press := func(code int, bit gpio.Buttons) {
		if isBitSet(keyBits, code) {
			buttons |= bit
		}
	}
	press(btnDPadUp, gpio.ButtonDPadUp)
	press(btnDPadDown, gpio.ButtonDPadDown)
	press(btnDPadLeft, gpio.ButtonDPadLeft)
	press(btnDPadRight, gpio.ButtonDPadRight)
	press(btnStart, gpio.ButtonStart)
	press(btnSelect, gpio.ButtonBack)
	press(btnThumbL, gpio.ButtonLeftStick)
	press(btnThumbR, gpio.ButtonRightStick)
	press(btnTL, gpio.ButtonLeftBumper)
	press(btnTR, gpio.ButtonRightBumper)
	press(btnMode, gpio.ButtonGuide)
	press(btnSouth, gpio.ButtonA)
	press(btnEast, gpio.ButtonB)
	press(btnWest, gpio.ButtonX)
	press(btnNorth, gpio.ButtonY)

	// Hat-style dpads report through ABS_HAT0X/Y instead of BTN_DPAD_*.
	if d.hasAbs[absHat0X] || d.hasAbs[absHat0Y] {
		hx := d.readAbs(absHat0X)
		hy := d.readAbs(absHat0Y)
		if hx < 0 {
			buttons |= gpio.ButtonDPadLeft
		} else if hx > 0 {
			buttons |= gpio.ButtonDPadRight
		}
		if hy < 0 {
			buttons |= gpio.ButtonDPadUp
		} else if hy > 0 {
			buttons |= gpio.ButtonDPadDown
		}
	}

	d.state = RawState{
		Connected: true,
		GUID:      d.guid,
		Mapping:   "", // evdev devices carry no SDL mapping string of their own
		Buttons:   buttons,
		Battery:   gpio.BatteryAbsentOrWired,
		Axes: RawAxes{
			LeftX:        int16(d.readAbs(absX)),
			LeftY:        int16(d.readAbs(absY)),
			RightX:       int16(d.readAbs(absRX)),
			RightY:       int16(d.readAbs(absRY)),
			LeftTrigger:  d.readTrigger(absZ),
			RightTrigger: d.readTrigger(absRZ),
		},
	}
	return nil
}

func (d *linuxDevice) State() RawState {
	return d.state
}

// SetRumble uploads (or re-uploads) an FF_RUMBLE effect and plays it for
// one frame's duration via EVIOCSFF/EV_FF, the standard evdev force-
// feedback path.
func (d *linuxDevice) SetRumble(lo, hi uint16) error {
	// The strong (large) motor is the low-frequency one on every rumble
	// gamepad evdev exposes.
	effect := ffEffect{
		Type:            ffRumble,
		ID:              -1,
		ReplayLength:    16, // ms, one sync-loop frame
		StrongMagnitude: lo,
		WeakMagnitude:   hi,
	}
	if d.ffReady {
		effect.ID = d.ffID
	}
	if err := ioctl(d.fd, eviocsff(), unsafe.Pointer(&effect)); err != nil {
		return fmt.Errorf("gamepad: EVIOCSFF: %w", err)
	}
	d.ffID = effect.ID
	d.ffReady = true

	ev := inputEvent{Type: evFF, Code: uint16(d.ffID), Value: 1}
	b := (*[unsafe.Sizeof(inputEvent{})]byte)(unsafe.Pointer(&ev))[:]
	if _, err := unix.Write(d.fd, b); err != nil {
		return fmt.Errorf("gamepad: play FF_RUMBLE: %w", err)
	}
	return nil
}

func (d *linuxDevice) Close() error {
	if d.ffReady {
		id := int32(d.ffID)
		_ = ioctl(d.fd, eviocrmff(), unsafe.Pointer(&id))
	}
	return unix.Close(d.fd)
}
