// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus defines the wire-level vocabulary shared by the rtuframe
// parser, the master engine, and the slave engine: the PDU, the two
// supported function codes, and the exception codes a slave may return.
package modbus

// Function codes supported by this core. Per spec, all other Modbus
// function codes (coils, input registers, mask-write, ...) are Non-goals.
const (
	FuncCodeReadHoldingRegisters  = 0x03
	FuncCodeWriteMultipleRegister = 0x10
)

// Exception codes a slave may place in an exception response
// (function | 0x80, code).
const (
	ExceptionIllegalFunction    = 0x01
	ExceptionIllegalDataAddress = 0x02
	ExceptionIllegalDataValue   = 0x03
	ExceptionSlaveDeviceFailure = 0x04
	ExceptionSlaveDeviceBusy    = 0x06
)

// Modbus limits (§6): maximum registers per transaction.
const (
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
)

// FrameMax is the per-frame byte ceiling (§3, §6).
const FrameMax = 256

// PDU is the logical record carried by an RTU frame:
// [SlaveAddr][Function][Payload...][CRC lo][CRC hi] on the wire.
type PDU struct {
	SlaveAddr byte
	Function  byte
	Payload   []byte
	CRC       uint16
}

// IsException reports whether Function carries the exception bit.
func (p PDU) IsException() bool {
	return p.Function&0x80 != 0
}
