// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package haptic

import (
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// WSProvider connects the haptic backend to a remote server over
// --haptics-server <ws-url> in place of the in-process Noop
// implementation. The wire protocol is a stream of
// JSON device-snapshot frames from the server and JSON vibration-command
// frames to it. Battery state arrives inside each snapshot frame and is
// cached in an AtomicBattery, never blocking the sync loop; no separate
// battery poll is made, so the level is as fresh as the server's last
// frame for that device.
type WSProvider struct {
	conn *websocket.Conn

	mu      sync.Mutex
	devices map[int]*wsDevice
}

// wireSnapshot is one frame of the server's device-state stream.
type wireSnapshot struct {
	DeviceID       int       `json:"device_id"`
	Actuators      int       `json:"actuators"`
	PressureInputs []float64 `json:"pressure_inputs"`
	ButtonInputs   []float64 `json:"button_inputs"`
	BatteryLevel   *float64  `json:"battery_level"` // 0..1, nil if unsupported
}

// wireVibration is one outgoing fire-and-forget vibration command.
type wireVibration struct {
	DeviceID int       `json:"device_id"`
	Speeds   []float64 `json:"speeds"`
}

// Dial connects to a haptics server over WebSocket and starts the
// background frame-reader task.
func Dial(url, origin string) (*WSProvider, error) {
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	p := &WSProvider{conn: conn, devices: make(map[int]*wsDevice)}
	go p.readLoop()
	return p, nil
}

func (p *WSProvider) readLoop() {
	for {
		var snap wireSnapshot
		if err := websocket.JSON.Receive(p.conn, &snap); err != nil {
			log.Printf("haptic: websocket receive failed, devices will read stale: %v", err)
			return
		}
		p.applySnapshot(snap)
	}
}

func (p *WSProvider) applySnapshot(snap wireSnapshot) {
	p.mu.Lock()
	dev, ok := p.devices[snap.DeviceID]
	if !ok {
		dev = &wsDevice{provider: p, id: snap.DeviceID}
		p.devices[snap.DeviceID] = dev
	}
	p.mu.Unlock()

	dev.mu.Lock()
	dev.actuatorCount = snap.Actuators
	dev.pressureInputs = snap.PressureInputs
	dev.buttonInputs = snap.ButtonInputs
	if snap.BatteryLevel != nil {
		dev.battery.Store(byte(*snap.BatteryLevel * 255))
		dev.hasBattery = true
	}
	dev.mu.Unlock()
}

// Devices returns every remote device seen so far, sorted by the server's
// device_id. Devices are never removed once reported; a new device with a
// lower id shifts the haptic slots of the devices after it.
func (p *WSProvider) Devices() []Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(p.devices))
	for id := range p.devices {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	devices := make([]Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, p.devices[id])
	}
	return devices
}

// Close shuts down the WebSocket connection.
func (p *WSProvider) Close() error {
	return p.conn.Close()
}

type wsDevice struct {
	provider *WSProvider
	id       int

	mu             sync.Mutex
	actuatorCount  int
	pressureInputs []float64
	buttonInputs   []float64
	hasBattery     bool

	battery AtomicBattery
}

func (d *wsDevice) Snapshot() DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := DeviceSnapshot{
		Actuators:    make([]Actuator, d.actuatorCount),
		HasBattery:   d.hasBattery,
		BatteryLevel: d.battery.Load(),
	}
	for _, v := range d.pressureInputs {
		snap.PressureInputs = append(snap.PressureInputs, SensorReading{Value: v})
	}
	for _, v := range d.buttonInputs {
		snap.ButtonInputs = append(snap.ButtonInputs, SensorReading{Value: v})
	}
	return snap
}

// SetVibration submits a fire-and-forget vibration command frame. The
// send must never eat into the sync loop's 16 ms budget, so it runs on
// its own goroutine.
func (d *wsDevice) SetVibration(speeds []float64) {
	cmd := wireVibration{DeviceID: d.id, Speeds: speeds}
	go func() {
		if err := websocket.JSON.Send(d.provider.conn, cmd); err != nil {
			log.Printf("haptic: vibration command to device %d failed: %v", d.id, err)
		}
	}()
}

func (d *wsDevice) Close() error {
	return nil
}

// batteryPollInterval is the cadence for battery
// polling; the WebSocket transport receives battery updates as part of
// each device snapshot frame instead of polling a separate endpoint, but
// the constant documents the same cadence contract haptic device backends
// on other transports should honor.
const batteryPollInterval = time.Second
