// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import "testing"

func TestCRC(t *testing.T) {
	var crc CRC
	crc.Reset()
	crc.PushBytes([]byte{0x02, 0x07})

	if crc.Value() != 0x1241 {
		t.Fatalf("crc expected %v, actual %v", 0x1241, crc.Value())
	}
}

func TestBulkMatchesIncremental(t *testing.T) {
	data := []byte{0x06, 0x03, 0x00, 0x00, 0x00, 0x02}

	var c CRC
	c.Reset()
	for _, b := range data {
		c.PushByte(b)
	}

	if got, want := Bulk(data), c.Value(); got != want {
		t.Fatalf("Bulk() = %#04x, incremental PushByte = %#04x", got, want)
	}
}

func TestKnownVectorReadHoldingRegisters(t *testing.T) {
	// 01 03 00 00 00 0A -> CRC C5 CD (lo, hi), a standard reference vector
	// for CRC-16/Modbus.
	req := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	if got := Bulk(req); got != FromWire(0xC5, 0xCD) {
		t.Fatalf("request crc = %#04x, want %#04x", got, FromWire(0xC5, 0xCD))
	}
}

func TestWireRoundTrip(t *testing.T) {
	lo, hi := ToWire(0xBEEF)
	if got := FromWire(lo, hi); got != 0xBEEF {
		t.Fatalf("round trip = %#04x, want 0xbeef", got)
	}
}
