// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuframe implements the byte-driven Modbus RTU frame parser
// (spec.md §4.4): a state machine with a sliding anchor/forward window
// over the RX ring, producing validated PDUs or resynchronising on
// mismatch. It is grounded on the teacher's incremental state machine in
// transport/rtu/framer.go (ADDR → FUNC → {DATA_LEN,REG} → ... → CRC), but
// reworked from a blocking io.Reader loop into a non-blocking step
// function driven by a ringqueue.Byte, per spec.md §4.3's requirement
// that the engine never assumes a read blocks.
package rtuframe

import (
	"encoding/binary"

	"github.com/ffutop/mbcore/modbus"
	"github.com/ffutop/mbcore/modbus/crc"
	"github.com/ffutop/mbcore/ringqueue"
)

// MaxReadBytes bounds the DATA_LEN byte-count field and the r_data
// scratch buffer. It covers both directions this parser serves: a
// read-holding-registers response (up to 125 registers = 250 bytes) and
// a write-multiple-registers request's data section (up to 123
// registers = 246 bytes). The master engine enforces the per-function
// register-count limits at submit time; the slave engine checks only that
// the requested range lies inside one work entry.
const MaxReadBytes = modbus.MaxReadRegisters * 2

// Role selects which side of the exchange this parser expects to read,
// since the two supported function codes have structurally different
// request and response shapes on the wire:
//
//   - 0x03 request:  [addr][func][regAddr:2][regCount:2][crc]        (4-byte payload)
//     0x03 response: [addr][func][byteCount][data...][crc]            (variable payload)
//   - 0x10 request:  [addr][func][regAddr:2][regCount:2][byteCount][data...][crc]
//     0x10 response: [addr][func][regAddr:2][regCount:2][crc]         (4-byte payload, an echo)
//
// spec.md §4.4's state table, read literally, matches exactly the
// MASTER's response-reading path (0x03 → DATA_LEN/DATA, 0x10 → REG/
// REG_LEN then straight to CRC). Role generalizes the same state names
// to the SLAVE's request-reading path, which needs the 0x10 payload's
// byteCount/data tail that a response never carries.
type Role int

const (
	RoleMaster Role = iota
	RoleSlave
)

type state int

const (
	stAddr state = iota
	stFunc
	stErr
	stDataLen
	stData
	stReg
	stRegLen
	stCRC
)

// Frame is a successfully validated PDU. Which fields are populated
// depends on Function and the parser's Role:
//   - exception (Function&0x80 != 0): ErrCode.
//   - 0x03, RoleMaster (response): Data holds the register bytes.
//   - 0x03, RoleSlave (request): RegAddr, RegCount.
//   - 0x10, RoleMaster (response, an echo): RegAddr, RegCount.
//   - 0x10, RoleSlave (request): RegAddr, RegCount, Data (raw write bytes).
type Frame struct {
	SlaveAddr byte
	Function  byte
	ErrCode   byte
	RegAddr   uint16
	RegCount  uint16
	Data      []byte
}

// IsException reports whether Function carries the exception bit.
func (f *Frame) IsException() bool {
	return f.Function&0x80 != 0
}

// Parser is the anchor/forward sliding-window state machine. It does not
// own the ring; the caller drains the transport into it separately
// (spec.md §4.5 "Drain up to FRAME_MAX bytes from transport.read").
type Parser struct {
	ring *ringqueue.Byte
	role Role

	state   state
	anchor  uint32
	forward uint32

	hdr    [4]byte
	hdrIdx int

	pduExpected int
	pduIndex    int
	rData       [MaxReadBytes]byte
	rDataLen    int

	function byte
	errCode  byte
	regAddr  uint16
	regCount uint16

	afterRegLen state
	crcCount    int
	crcBytes    [2]byte

	scratch [modbus.FrameMax]byte
}

// NewParser creates a Parser bound to ring, operating in the given Role.
func NewParser(ring *ringqueue.Byte, role Role) *Parser {
	p := &Parser{ring: ring, role: role}
	p.rewind()
	return p
}

// Anchor and Forward expose the sliding window's absolute ring-index
// positions, for asserting spec.md invariant 2 (rd ≤ anchor ≤ forward ≤ wr)
// in tests.
func (p *Parser) Anchor() uint32  { return p.anchor }
func (p *Parser) Forward() uint32 { return p.forward }

// Poll attempts to parse one frame addressed to expectedSlave out of the
// bytes currently available in the ring. acceptResponses gates emission:
// when false, a frame whose CRC validates is still discarded via the
// ordinary one-byte resync, exactly as spec.md §9's "stale response"
// decision requires — the master engine passes false whenever the head
// request has not yet transmitted (attempts == 0), so a straggling late
// response cannot be mistaken for the answer to the next request.
//
// Poll returns (frame, true) once, the first time a valid frame is
// found among the currently buffered bytes; (nil, false) means "no
// complete, accepted frame yet — more bytes needed, or everything
// buffered so far was resynchronised away".
func (p *Parser) Poll(expectedSlave byte, acceptResponses bool) (*Frame, bool) {
	for {
		wr := p.ring.WriteCounter()
		if p.forward >= wr {
			return nil, false
		}
		c, ok := p.ring.PeekAt(p.forward)
		if !ok {
			return nil, false
		}

		switch p.state {
		case stAddr:
			if c != expectedSlave {
				p.resync()
				continue
			}
			p.function = 0
			p.forward++
			p.state = stFunc

		case stFunc:
			switch {
			case c == modbus.FuncCodeReadHoldingRegisters:
				p.function = c
				p.forward++
				if p.role == RoleMaster {
					p.state = stDataLen
				} else {
					p.hdrIdx = 0
					p.afterRegLen = stCRC
					p.state = stReg
				}
			case c == modbus.FuncCodeWriteMultipleRegister:
				p.function = c
				p.forward++
				p.hdrIdx = 0
				if p.role == RoleMaster {
					p.afterRegLen = stCRC
				} else {
					p.afterRegLen = stDataLen
				}
				p.state = stReg
			case c&0x80 != 0:
				p.function = c
				p.forward++
				p.state = stErr
			default:
				p.resync()
			}

		case stErr:
			p.errCode = c
			p.forward++
			p.crcCount = 0
			p.state = stCRC

		case stDataLen:
			if int(c) > MaxReadBytes {
				p.resync()
				continue
			}
			p.pduExpected = int(c)
			p.pduIndex = 0
			p.rDataLen = 0
			p.forward++
			if p.pduExpected == 0 {
				p.crcCount = 0
				p.state = stCRC
			} else {
				p.state = stData
			}

		case stData:
			p.rData[p.pduIndex] = c
			p.pduIndex++
			p.forward++
			if p.pduIndex == p.pduExpected {
				p.rDataLen = p.pduIndex
				p.crcCount = 0
				p.state = stCRC
			}

		case stReg:
			p.hdr[p.hdrIdx] = c
			p.hdrIdx++
			p.forward++
			if p.hdrIdx == 2 {
				p.state = stRegLen
			}

		case stRegLen:
			p.hdr[p.hdrIdx] = c
			p.hdrIdx++
			p.forward++
			if p.hdrIdx == 4 {
				p.regAddr = binary.BigEndian.Uint16(p.hdr[0:2])
				p.regCount = binary.BigEndian.Uint16(p.hdr[2:4])
				p.state = p.afterRegLen
				if p.state == stCRC {
					p.crcCount = 0
				}
			}

		case stCRC:
			p.crcBytes[p.crcCount] = c
			p.crcCount++
			p.forward++
			if p.crcCount == 2 {
				want := crc.FromWire(p.crcBytes[0], p.crcBytes[1])
				if acceptResponses && p.computeCRC() == want {
					frame := p.buildFrame(expectedSlave)
					p.flush()
					return frame, true
				}
				p.resync()
			}
		}
	}
}

// computeCRC recomputes the CRC over [anchor, forward-2) — address
// through the last payload byte — freshly each time rather than
// maintaining a running accumulator, because a resync can rewind
// forward back past bytes an incremental accumulator would have already
// folded in. At FRAME_MAX=256 this recomputation is cheap.
func (p *Parser) computeCRC() uint16 {
	n := int(p.forward) - 2 - int(p.anchor)
	if n < 0 {
		n = 0
	}
	buf := p.scratch[:n]
	for i := 0; i < n; i++ {
		b, _ := p.ring.PeekAt(p.anchor + uint32(i))
		buf[i] = b
	}
	return crc.Bulk(buf)
}

func (p *Parser) buildFrame(expectedSlave byte) *Frame {
	f := &Frame{SlaveAddr: expectedSlave, Function: p.function}
	switch {
	case p.function&0x80 != 0:
		f.ErrCode = p.errCode
	case p.function == modbus.FuncCodeReadHoldingRegisters:
		if p.role == RoleMaster {
			data := make([]byte, p.rDataLen)
			copy(data, p.rData[:p.rDataLen])
			f.Data = data
		} else {
			f.RegAddr = p.regAddr
			f.RegCount = p.regCount
		}
	case p.function == modbus.FuncCodeWriteMultipleRegister:
		f.RegAddr = p.regAddr
		f.RegCount = p.regCount
		if p.role == RoleSlave {
			data := make([]byte, p.rDataLen)
			copy(data, p.rData[:p.rDataLen])
			f.Data = data
		}
	}
	return f
}

// flush moves both anchor and rd to forward: the accepted frame's bytes
// are released from the ring, and parsing restarts clean (spec.md
// "Lifecycle: Parser state is reset after every frame").
func (p *Parser) flush() {
	p.ring.AdvanceRdTo(p.forward)
	p.anchor = p.forward
	p.resetFields()
}

// resync discards exactly the single byte at anchor, rewinds forward
// back to the new anchor, and restarts from stAddr — spec.md §4.4
// "Sliding window semantics" and invariant 2.
func (p *Parser) resync() {
	p.anchor++
	p.ring.AdvanceRdTo(p.anchor)
	p.forward = p.anchor
	p.resetFields()
}

func (p *Parser) resetFields() {
	p.state = stAddr
	p.hdrIdx = 0
	p.pduIndex = 0
	p.pduExpected = 0
	p.crcCount = 0
}

func (p *Parser) rewind() {
	rd := p.ring.ReadCounter()
	p.anchor = rd
	p.forward = rd
	p.resetFields()
}
