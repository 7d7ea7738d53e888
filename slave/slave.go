// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave implements the Modbus RTU slave engine (spec.md §4.6): a
// non-overlapping work table dispatching inbound requests by register
// range, success/exception response framing, and dir_ctrl(TX)/dir_ctrl(RX)
// bracketing around every reply. It is grounded on the teacher's
// internal/local-slave.LocalSlave function-code dispatch (internal/
// local-slave/slave.go), narrowed from the teacher's four Modbus tables
// (coils, discrete inputs, holding/input registers) to this core's single
// holding-register table, and from a single catch-all DataModel to a
// work table of independently owned register ranges.
package slave

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/mbcore/modbus"
	"github.com/ffutop/mbcore/modbus/crc"
	"github.com/ffutop/mbcore/ringqueue"
	"github.com/ffutop/mbcore/rtuframe"
	"github.com/ffutop/mbcore/transport"
)

// Handler serves the registers owned by one WorkEntry. Returning an error
// from either method causes the engine to reply with
// ExceptionSlaveDeviceFailure.
type Handler interface {
	// ReadHoldingRegisters returns count*2 big-endian register bytes
	// starting at addr.
	ReadHoldingRegisters(addr, count uint16) ([]byte, error)
	// WriteMultipleRegisters stores count registers (data is count*2
	// big-endian bytes) starting at addr.
	WriteMultipleRegisters(addr, count uint16, data []byte) error
}

// WorkEntry is one non-overlapping register range and the Handler that
// owns it. RegEnd is exclusive.
type WorkEntry struct {
	RegStart uint16
	RegEnd   uint16
	Handler  Handler
}

// ErrOverlappingWorkEntries is returned by New when two WorkEntry ranges
// intersect — spec.md §4.6 requires the table be non-overlapping so
// dispatch is unambiguous.
var ErrOverlappingWorkEntries = errors.New("slave: work table entries overlap")

// Config tunes the engine.
type Config struct {
	RXCapacity int
	Logger     *slog.Logger
}

// Engine is the slave protocol engine. Like master.Engine, it is not safe
// for concurrent use; Tick must be driven from one goroutine.
type Engine struct {
	ownAddr   byte
	table     []WorkEntry
	transport transport.Adapter
	rx        *ringqueue.Byte
	parser    *rtuframe.Parser
	logger    *slog.Logger
}

// New builds an Engine that answers as ownAddr, dispatching through
// table. table need not be sorted but must not contain overlapping
// ranges.
func New(adapter transport.Adapter, ownAddr byte, table []WorkEntry, cfg Config) (*Engine, error) {
	if err := checkNonOverlapping(table); err != nil {
		return nil, err
	}
	if cfg.RXCapacity <= 0 {
		cfg.RXCapacity = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rx, err := ringqueue.NewByte(cfg.RXCapacity)
	if err != nil {
		return nil, fmt.Errorf("slave: %w", err)
	}

	return &Engine{
		ownAddr:   ownAddr,
		table:     table,
		transport: adapter,
		rx:        rx,
		parser:    rtuframe.NewParser(rx, rtuframe.RoleSlave),
		logger:    cfg.Logger,
	}, nil
}

func checkNonOverlapping(table []WorkEntry) error {
	for i := range table {
		for j := range table {
			if i == j {
				continue
			}
			if table[i].RegStart < table[j].RegEnd && table[j].RegStart < table[i].RegEnd {
				return fmt.Errorf("%w: [%d,%d) and [%d,%d)",
					ErrOverlappingWorkEntries, table[i].RegStart, table[i].RegEnd, table[j].RegStart, table[j].RegEnd)
			}
		}
	}
	return nil
}

// Tick drains available transport bytes, parses one request addressed to
// ownAddr if present, and dispatches it. Unlike master.Engine, there is
// no FIFO or permit here: a slave answers whatever shows up, one request
// at a time, as soon as it is fully framed.
func (e *Engine) Tick(elapsedMS uint32) {
	e.drainRX()

	frame, ok := e.parser.Poll(e.ownAddr, true)
	if !ok {
		return
	}
	e.dispatch(frame)
}

func (e *Engine) drainRX() {
	var buf [modbus.FrameMax]byte
	n, err := e.transport.Read(buf[:])
	if err != nil {
		e.logger.Debug("slave: transport read error", "err", err)
		return
	}
	if n > 0 {
		e.rx.Add(buf[:n])
	}
}

func (e *Engine) dispatch(f *rtuframe.Frame) {
	switch f.Function {
	case modbus.FuncCodeReadHoldingRegisters:
		e.handleRead(f)
	case modbus.FuncCodeWriteMultipleRegister:
		e.handleWrite(f)
	default:
		e.logger.Warn("slave: unsupported function reached dispatch", "function", f.Function)
	}
}

func (e *Engine) handleRead(f *rtuframe.Frame) {
	entry, ok := e.find(f.RegAddr, f.RegCount)
	if !ok {
		e.respondException(modbus.FuncCodeReadHoldingRegisters, modbus.ExceptionIllegalDataAddress)
		return
	}
	data, err := entry.Handler.ReadHoldingRegisters(f.RegAddr, f.RegCount)
	if err != nil {
		e.logger.Error("slave: read handler failed", "reg_addr", f.RegAddr, "reg_count", f.RegCount, "err", err)
		e.respondException(modbus.FuncCodeReadHoldingRegisters, modbus.ExceptionSlaveDeviceFailure)
		return
	}
	e.respondRead(data)
}

func (e *Engine) handleWrite(f *rtuframe.Frame) {
	entry, ok := e.find(f.RegAddr, f.RegCount)
	if !ok {
		e.respondException(modbus.FuncCodeWriteMultipleRegister, modbus.ExceptionIllegalDataAddress)
		return
	}
	if err := entry.Handler.WriteMultipleRegisters(f.RegAddr, f.RegCount, f.Data); err != nil {
		e.logger.Error("slave: write handler failed", "reg_addr", f.RegAddr, "reg_count", f.RegCount, "err", err)
		e.respondException(modbus.FuncCodeWriteMultipleRegister, modbus.ExceptionSlaveDeviceFailure)
		return
	}
	e.respondWrite(f.RegAddr, f.RegCount)
}

// find locates the WorkEntry that fully contains [addr, addr+count), per
// spec.md §4.6: a request straddling (or entirely missing) a boundary is
// ExceptionIllegalDataAddress, never partially served.
func (e *Engine) find(addr, count uint16) (WorkEntry, bool) {
	end := addr + count
	for _, entry := range e.table {
		if addr >= entry.RegStart && end <= entry.RegEnd && end >= addr {
			return entry, true
		}
	}
	return WorkEntry{}, false
}

func (e *Engine) respondRead(data []byte) {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, byte(len(data)))
	payload = append(payload, data...)
	e.send(modbus.FuncCodeReadHoldingRegisters, payload)
}

func (e *Engine) respondWrite(addr, count uint16) {
	payload := []byte{byte(addr >> 8), byte(addr), byte(count >> 8), byte(count)}
	e.send(modbus.FuncCodeWriteMultipleRegister, payload)
}

func (e *Engine) respondException(function, code byte) {
	e.send(function|0x80, []byte{code})
}

func (e *Engine) send(function byte, payload []byte) {
	body := make([]byte, 0, 2+len(payload))
	body = append(body, e.ownAddr, function)
	body = append(body, payload...)
	v := crc.Bulk(body)
	lo, hi := crc.ToWire(v)
	frame := append(body, lo, hi)

	if err := e.transport.DirCtrl(transport.DirTX); err != nil {
		e.logger.Error("slave: dir_ctrl(tx) failed", "err", err)
	}
	if _, err := e.transport.Write(frame); err != nil {
		e.logger.Error("slave: transport write failed", "err", err)
	}
	if err := e.transport.DirCtrl(transport.DirRX); err != nil {
		e.logger.Error("slave: dir_ctrl(rx) failed", "err", err)
	}
}
