// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpio

import "github.com/google/uuid"

// magicBytes is the 16-byte sentinel a cartridge places at GPIO offset 0 to
// announce that it supports Pinput. The wire bytes are, byte for byte, a
// standard big-endian RFC 4122 UUID — no reordering is needed to present it
// as one.
var magicBytes = [16]byte{
	0x02, 0x20, 0xc7, 0x46, 0x77, 0xab, 0x44, 0x6e,
	0xbe, 0xdc, 0x7f, 0xd6, 0xd2, 0x77, 0x98, 0x4d,
}

// Magic is the UUID sentinel a cartridge writes to GPIO offset 0 to opt in
// to external gamepad injection. Once the daemon finds it, it overwrites
// those bytes with live gamepad data; the magic only reappears if the
// cartridge resets.
var Magic = uuid.UUID(magicBytes)

// MagicSize is the width in bytes of Magic, which coincides with RecordSize.
const MagicSize = 16

// ReadMagic interprets the first MagicSize bytes of b as a UUID. b must be
// at least MagicSize long; callers always pass a 128-byte GPIO image.
func ReadMagic(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:MagicSize])
	return u
}
