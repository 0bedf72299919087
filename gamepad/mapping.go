// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gamepad

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides is a GUID -> SDL-style controller mapping string table, loaded
// from the optional --gamepad-mappings file, that supplements a platform
// backend's built-in mapping detection for devices it doesn't otherwise
// recognize.
type Overrides map[string]string

// LoadOverrides parses a YAML document of the form:
//
//	03000000c82d00000660000011010000: "platform:Linux,a:b0,b:b1,guide:b12,"
//	19000000010000000100000001000000: "platform:Mac OS X,a:b0,..."
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gamepad: reading mapping overrides %s: %w", path, err)
	}
	var overrides Overrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("gamepad: parsing mapping overrides %s: %w", path, err)
	}
	return overrides, nil
}

// Lookup returns the override mapping string for guid, if any was loaded.
func (o Overrides) Lookup(guid string) (string, bool) {
	if o == nil {
		return "", false
	}
	m, ok := o[guid]
	return m, ok
}
