// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build darwin

package detect

import (
	"os"
	"path/filepath"
	"testing"
)

// writeBundle creates a minimal .app bundle with the given Info.plist
// fields and returns the path to its executable.
func writeBundle(t *testing.T, root, appName, bundleID, execName string) string {
	t.Helper()
	bundle := filepath.Join(root, appName+".app")
	macosDir := filepath.Join(bundle, "Contents", "MacOS")
	if err := os.MkdirAll(macosDir, 0o755); err != nil {
		t.Fatal(err)
	}
	plistXML := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>` + bundleID + `</string>
	<key>CFBundleExecutable</key>
	<string>` + execName + `</string>
</dict>
</plist>`
	if err := os.WriteFile(filepath.Join(bundle, "Contents", "Info.plist"), []byte(plistXML), 0o644); err != nil {
		t.Fatal(err)
	}
	exe := filepath.Join(macosDir, execName)
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return exe
}

// TestClassifyByBundle covers the macOS bundle classification cases.
func TestClassifyByBundle(t *testing.T) {
	dir := t.TempDir()

	exe := writeBundle(t, dir, "PICO-8", "com.lexaloffle.pico8", "PICO-8")
	if flavor, ok := classifyByBundle(exe); !ok || flavor != PICO8 {
		t.Errorf("classifyByBundle(%q) = (%v, %v), want (PICO8, true)", exe, flavor, ok)
	}

	exe2 := writeBundle(t, dir, "MyCart", "com.pico8_author.mycart", "MyCart")
	if flavor, ok := classifyByBundle(exe2); !ok || flavor != PICO8 {
		t.Errorf("classifyByBundle(%q) = (%v, %v), want (PICO8, true)", exe2, flavor, ok)
	}

	// CFBundleExecutable mismatch: the on-disk binary name differs from the
	// plist's declared executable, so the exact-path check in rule 2 fails.
	bundle := filepath.Join(dir, "Mismatch.app")
	macosDir := filepath.Join(bundle, "Contents", "MacOS")
	os.MkdirAll(macosDir, 0o755)
	plistXML := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
	<key>CFBundleIdentifier</key><string>com.lexaloffle.pico8</string>
	<key>CFBundleExecutable</key><string>RealBinary</string>
</dict></plist>`
	os.WriteFile(filepath.Join(bundle, "Contents", "Info.plist"), []byte(plistXML), 0o644)
	wrongExe := filepath.Join(macosDir, "HelperTool")
	os.WriteFile(wrongExe, []byte("#!/bin/sh\n"), 0o755)
	if _, ok := classifyByBundle(wrongExe); ok {
		t.Errorf("classifyByBundle(%q) should not match: CFBundleExecutable mismatch", wrongExe)
	}

	// Unrelated app: different bundle identifier.
	exe3 := writeBundle(t, dir, "Other", "com.example.other", "Other")
	if _, ok := classifyByBundle(exe3); ok {
		t.Errorf("classifyByBundle(%q) should not match: unrelated bundle id", exe3)
	}
}
