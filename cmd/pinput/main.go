// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// pinput bridges modern game controllers (buttons, sticks, triggers,
// rumble, battery) into PICO-8 and WASM-4 cartridges over the runtimes'
// GPIO memory, from outside the runtime process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/VyrCossont/pinput"
	"github.com/VyrCossont/pinput/detect"
	"github.com/VyrCossont/pinput/gamepad"
	"github.com/VyrCossont/pinput/haptic"
	"github.com/VyrCossont/pinput/procmem"
)

func mainImpl() error {
	hapticsServer := flag.String("haptics-server", "", "WebSocket URL of a remote haptics server")
	gamepadMappings := flag.String("gamepad-mappings", "", "YAML file of SDL-style controller mapping overrides")
	flag.Parse()

	if _, err := pinput.Init(); err != nil {
		return err
	}

	pads := gamepad.NewProvider(gamepad.NewBackend())
	defer pads.Close()
	if *gamepadMappings != "" {
		overrides, err := gamepad.LoadOverrides(*gamepadMappings)
		if err != nil {
			return err
		}
		pads.SetOverrides(overrides)
	}

	var haptics haptic.Provider = haptic.Noop{}
	if *hapticsServer != "" {
		ws, err := haptic.Dial(*hapticsServer, "http://localhost/")
		if err != nil {
			return fmt.Errorf("connecting to haptics server: %w", err)
		}
		defer ws.Close()
		haptics = ws
	}

	engine := &pinput.Engine{
		Detector: detect.NewDetector(),
		Oracle:   procmem.NewOracle(),
		Gamepads: pads,
		Haptics:  haptics,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return engine.Run(ctx)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "pinput: %s.\n", err)
		os.Exit(1)
	}
}
