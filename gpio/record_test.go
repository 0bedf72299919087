// Copyright 2024 The Pinput Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpio

import (
	"bytes"
	"math"
	"testing"
)

// TestRecordRoundTrip: for a gamepad record built
// from arbitrary bytes, Marshal(Unmarshal(b)) reproduces b exactly, and the
// full array is 128 bytes.
func TestRecordRoundTrip(t *testing.T) {
	patterns := [][RecordSize]byte{
		{}, // all zero
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		{0x3f, 0x55, 0x00, 0x10, 0x80, 0x7f, 0x00, 0x80, 0xff, 0x7f, 0x01, 0x00, 0xfe, 0xff, 0x80, 0x40},
	}
	for _, p := range patterns {
		in := p[:]
		g := UnmarshalGamepad(in)
		out := make([]byte, RecordSize)
		g.Marshal(out)
		if !bytes.Equal(in, out) {
			t.Errorf("round trip mismatch: in=% x out=% x", in, out)
		}
	}
}

func TestArraySize(t *testing.T) {
	var a Array
	buf := make([]byte, ArraySize)
	a.Marshal(buf)
	if len(buf) != 128 {
		t.Fatalf("ArraySize = %d, want 128", ArraySize)
	}
	if got := UnmarshalArray(buf); got != a {
		t.Errorf("array round trip mismatch")
	}
}

// TestInvertStickY checks the bitwise-NOT Y mapping at its boundary values.
func TestInvertStickY(t *testing.T) {
	cases := []struct{ in, want int16 }{
		{-1, 0},
		{0, -1},
		{math.MinInt16, math.MaxInt16},
		{math.MaxInt16, math.MinInt16},
	}
	for _, c := range cases {
		if got := InvertStickY(c.in); got != c.want {
			t.Errorf("InvertStickY(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

// TestScaleTrigger checks the 0x81 divisor's boundary behavior.
func TestScaleTrigger(t *testing.T) {
	cases := []struct {
		in   uint16
		want byte
	}{
		{0, 0},
		{0x7fff, 255}, // top of the raw positive range lands exactly on full scale
		{0xffff, 255}, // saturates well above the 0..255 scale's top
		{1, 1},        // any nonzero remainder rounds up
		{triggerDivisor, 1},
		{triggerDivisor * 2, 2},
	}
	for _, c := range cases {
		if got := ScaleTrigger(c.in); got != c.want {
			t.Errorf("ScaleTrigger(0x%x) = %d, want %d", c.in, got, c.want)
		}
	}
	if triggerDivisor != 0x81 {
		t.Fatalf("triggerDivisor = 0x%x, want 0x81", triggerDivisor)
	}
}
