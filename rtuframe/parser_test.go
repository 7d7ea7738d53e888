// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuframe

import (
	"testing"

	"github.com/ffutop/mbcore/modbus"
	"github.com/ffutop/mbcore/modbus/crc"
	"github.com/ffutop/mbcore/ringqueue"
)

func mustRing(t *testing.T, capacity int) *ringqueue.Byte {
	t.Helper()
	r, err := ringqueue.NewByte(capacity)
	if err != nil {
		t.Fatalf("NewByte: %v", err)
	}
	return r
}

// framed appends crc.Bulk(payload)'s wire bytes to payload, producing a
// complete on-wire frame. Expected CRC bytes are always computed this way
// in these tests rather than hardcoded, since spec.md's own illustrative
// scenario byte sequences do not check out against a correct CRC-16/Modbus
// computation.
func framed(payload []byte) []byte {
	v := crc.Bulk(payload)
	lo, hi := crc.ToWire(v)
	return append(append([]byte{}, payload...), lo, hi)
}

func TestMasterParsesReadHoldingRegistersResponse(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	payload := []byte{0x06, 0x03, 0x04, 0x00, 0x11, 0x00, 0x22}
	frame := framed(payload)
	ring.Add(frame)

	f, ok := p.Poll(0x06, true)
	if !ok {
		t.Fatalf("Poll did not return a frame")
	}
	if f.Function != modbus.FuncCodeReadHoldingRegisters {
		t.Fatalf("Function = %#x, want 0x03", f.Function)
	}
	want := []byte{0x00, 0x11, 0x00, 0x22}
	if len(f.Data) != len(want) {
		t.Fatalf("Data = %v, want %v", f.Data, want)
	}
	for i := range want {
		if f.Data[i] != want[i] {
			t.Fatalf("Data[%d] = %#x, want %#x", i, f.Data[i], want[i])
		}
	}
}

func TestMasterParsesWriteMultipleRegistersEcho(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	payload := []byte{0x06, 0x10, 0x00, 0x10, 0x00, 0x02}
	ring.Add(framed(payload))

	f, ok := p.Poll(0x06, true)
	if !ok {
		t.Fatalf("Poll did not return a frame")
	}
	if f.RegAddr != 0x0010 || f.RegCount != 0x0002 {
		t.Fatalf("RegAddr=%#x RegCount=%#x, want 0x0010/0x0002", f.RegAddr, f.RegCount)
	}
}

func TestMasterParsesExceptionResponse(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	payload := []byte{0x06, 0x83, modbus.ExceptionIllegalDataAddress}
	ring.Add(framed(payload))

	f, ok := p.Poll(0x06, true)
	if !ok {
		t.Fatalf("Poll did not return a frame")
	}
	if !f.IsException() {
		t.Fatalf("expected an exception frame")
	}
	if f.ErrCode != modbus.ExceptionIllegalDataAddress {
		t.Fatalf("ErrCode = %#x, want %#x", f.ErrCode, modbus.ExceptionIllegalDataAddress)
	}
}

func TestSlaveParsesReadHoldingRegistersRequest(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleSlave)

	payload := []byte{0x06, 0x03, 0x00, 0x00, 0x00, 0x02}
	ring.Add(framed(payload))

	f, ok := p.Poll(0x06, true)
	if !ok {
		t.Fatalf("Poll did not return a frame")
	}
	if f.RegAddr != 0x0000 || f.RegCount != 0x0002 {
		t.Fatalf("RegAddr=%#x RegCount=%#x, want 0/2", f.RegAddr, f.RegCount)
	}
}

func TestSlaveParsesWriteMultipleRegistersRequest(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleSlave)

	payload := []byte{0x06, 0x10, 0x00, 0x10, 0x00, 0x02, 0x04, 0x00, 0xAA, 0x00, 0xBB}
	ring.Add(framed(payload))

	f, ok := p.Poll(0x06, true)
	if !ok {
		t.Fatalf("Poll did not return a frame")
	}
	if f.RegAddr != 0x0010 || f.RegCount != 0x0002 {
		t.Fatalf("RegAddr=%#x RegCount=%#x, want 0x10/2", f.RegAddr, f.RegCount)
	}
	want := []byte{0x00, 0xAA, 0x00, 0xBB}
	if len(f.Data) != len(want) {
		t.Fatalf("Data = %v, want %v", f.Data, want)
	}
	for i := range want {
		if f.Data[i] != want[i] {
			t.Fatalf("Data[%d] = %#x, want %#x", i, f.Data[i], want[i])
		}
	}
}

func TestLeadingGarbageResyncsOneByteAtATime(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	garbage := []byte{0xFF, 0xFF, 0xFF}
	payload := []byte{0x06, 0x03, 0x02, 0x00, 0x2A}
	ring.Add(garbage)
	ring.Add(framed(payload))

	f, ok := p.Poll(0x06, true)
	if !ok {
		t.Fatalf("Poll did not recover a frame after garbage")
	}
	if len(f.Data) != 2 || f.Data[0] != 0x00 || f.Data[1] != 0x2A {
		t.Fatalf("Data = %v, want [0 0x2A]", f.Data)
	}
}

func TestWrongAddressIsResynchronisedNotAccepted(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	payload := []byte{0x07, 0x03, 0x02, 0x00, 0x2A}
	ring.Add(framed(payload))

	_, ok := p.Poll(0x06, true)
	if ok {
		t.Fatalf("Poll accepted a frame addressed to a different slave")
	}
}

func TestCorruptedCRCIsRejectedAndDoesNotWedgeTheParser(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	payload := []byte{0x06, 0x03, 0x02, 0x00, 0x2A}
	frame := framed(payload)
	frame[len(frame)-1] ^= 0xFF // corrupt CRC hi byte
	ring.Add(frame)

	_, ok := p.Poll(0x06, true)
	if ok {
		t.Fatalf("Poll accepted a frame with a corrupted CRC")
	}

	// A subsequent valid frame must still be parsable; the parser must not
	// be left wedged by the rejected attempt.
	ring.Add(framed(payload))
	f, ok := p.Poll(0x06, true)
	if !ok {
		t.Fatalf("Poll did not recover after a corrupted frame")
	}
	if len(f.Data) != 2 {
		t.Fatalf("Data = %v, want 2 bytes", f.Data)
	}
}

func TestAcceptResponsesFalseDiscardsAValidFrame(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	payload := []byte{0x06, 0x03, 0x02, 0x00, 0x2A}
	ring.Add(framed(payload))

	_, ok := p.Poll(0x06, false)
	if ok {
		t.Fatalf("Poll accepted a frame while acceptResponses was false")
	}
}

func TestByteSplittingIndependence(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	payload := []byte{0x06, 0x03, 0x02, 0x00, 0x2A}
	frame := framed(payload)

	for _, b := range frame {
		ring.Add([]byte{b})
		f, ok := p.Poll(0x06, true)
		if ok {
			if len(f.Data) != 2 || f.Data[1] != 0x2A {
				t.Fatalf("Data = %v, want [0 0x2A]", f.Data)
			}
			return
		}
	}
	t.Fatalf("frame never completed across single-byte feeds")
}

func TestInvariantAnchorWithinReadAndForwardBounds(t *testing.T) {
	ring := mustRing(t, 64)
	p := NewParser(ring, RoleMaster)

	ring.Add([]byte{0xFF, 0xFF})
	ring.Add(framed([]byte{0x06, 0x03, 0x02, 0x00, 0x2A}))

	for {
		if p.Anchor() < ring.ReadCounter() || p.Anchor() > p.Forward() || p.Forward() > ring.WriteCounter() {
			t.Fatalf("invariant violated: rd=%d anchor=%d forward=%d wr=%d",
				ring.ReadCounter(), p.Anchor(), p.Forward(), ring.WriteCounter())
		}
		_, ok := p.Poll(0x06, true)
		if ok {
			break
		}
	}
}
