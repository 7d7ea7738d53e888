// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master implements the Modbus RTU master engine (spec.md §4.5):
// a fixed-size request-slot pool, a strict FIFO dispatch order enforced by
// a binary send permit, retry-with-timeout delivery, and callback
// dispatch on response, exception, or timeout. It is grounded on the
// teacher's internal/gateway request/response pairing (internal/gateway/
// gateway.go), reworked from its goroutine-per-connection, channel-backed
// dispatch into the single-threaded cooperative step spec.md §5 requires.
package master

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ffutop/mbcore/modbus"
	"github.com/ffutop/mbcore/modbus/crc"
	"github.com/ffutop/mbcore/ringqueue"
	"github.com/ffutop/mbcore/rtuframe"
	"github.com/ffutop/mbcore/transport"
)

// MaxRequests is the default request-slot pool size (spec.md §6).
const MaxRequests = 32

// DefaultRepeats is MASTER_REPEATS' default value: a request gets up to
// this many transmission attempts before the engine declares it timed
// out.
const DefaultRepeats = 3

var (
	// ErrPoolExhausted is returned by Submit when all request slots are
	// in use.
	ErrPoolExhausted = errors.New("master: request slot pool exhausted")
	// ErrInvalidRequest is returned by Submit for a request violating
	// the function/register-count bounds spec.md §6 fixes.
	ErrInvalidRequest = errors.New("master: invalid request")
	// ErrTimeout is passed to a Request's callback when every attempt
	// went unanswered.
	ErrTimeout = errors.New("master: request timed out")
)

// Request describes one outstanding transaction. Callback is invoked
// exactly once, from a Tick call, with either a successful PDU's Data (for
// 0x03), an empty Result (a successful 0x10; the RegAddr/RegCount echo is
// not passed on), an exception code, or ErrTimeout.
type Request struct {
	SlaveAddr byte
	Function  byte
	RegAddr   uint16
	RegCount  uint16
	// WriteData carries the registers to write for FuncCodeWriteMultipleRegister,
	// big-endian, RegCount*2 bytes long. Unused for reads. Submit copies it
	// into the slot, so the caller's buffer need not outlive the request
	// (spec.md §3/§9).
	WriteData []byte
	// TimeoutMS bounds each transmission attempt; zero is invalid (spec.md
	// §7's invalid-argument taxonomy) since a zero timeout can never fire
	// and would stall the FIFO head forever.
	TimeoutMS uint32

	Callback func(res Result)
}

// Result is delivered to a Request's Callback.
type Result struct {
	ID uuid.UUID
	// Data holds the register bytes for a successful 0x03 read.
	Data []byte
	// Exception is non-zero when the slave returned an exception
	// response; Err is nil in that case (exceptions are a protocol
	// outcome, not a transport failure).
	Exception byte
	Err       error
}

type slotState int

const (
	slotPending slotState = iota
	slotInFlight
	slotAwaiting
)

type slot struct {
	id          uuid.UUID
	req         Request
	state       slotState
	attempts    int
	elapsedMS   uint32
	timeoutMS   uint32
}

// Config tunes the engine. Zero-value fields take the documented default.
// Per-request timeout lives on Request itself (spec.md §3's data model),
// not here: a single engine-wide timeout would let a zero Config value
// silently produce requests that can never time out.
type Config struct {
	MaxRequests int
	Repeats     int  // MASTER_REPEATS
	NoRetries   bool // collapses every request to exactly 1 attempt
	RXCapacity  int
	TXCapacity  int
	Logger      *slog.Logger
}

// Engine is the master protocol engine. It is not safe for concurrent
// use: Tick and Submit must be called from the same goroutine, matching
// the cooperative, non-reentrant scheduling model spec.md §5 requires.
type Engine struct {
	cfg       Config
	transport transport.Adapter
	rx        *ringqueue.Byte
	tx        *ringqueue.Byte
	parser    *rtuframe.Parser
	logger    *slog.Logger

	free []*slot
	fifo []*slot

	sendPermit bool
}

// New builds an Engine around adapter, with pool/repeat settings from
// cfg. adapter.Init is not called here; the caller controls when the
// transport is opened.
func New(adapter transport.Adapter, cfg Config) *Engine {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = MaxRequests
	}
	if cfg.Repeats <= 0 {
		cfg.Repeats = DefaultRepeats
	}
	if cfg.NoRetries {
		cfg.Repeats = 1
	}
	if cfg.RXCapacity <= 0 {
		cfg.RXCapacity = 256
	}
	if cfg.TXCapacity <= 0 {
		cfg.TXCapacity = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rx, err := ringqueue.NewByte(cfg.RXCapacity)
	if err != nil {
		panic(fmt.Sprintf("master: %v", err))
	}
	tx, err := ringqueue.NewByte(cfg.TXCapacity)
	if err != nil {
		panic(fmt.Sprintf("master: %v", err))
	}

	e := &Engine{
		cfg:        cfg,
		transport:  adapter,
		rx:         rx,
		tx:         tx,
		parser:     rtuframe.NewParser(rx, rtuframe.RoleMaster),
		logger:     cfg.Logger,
		sendPermit: true,
	}
	e.free = make([]*slot, 0, cfg.MaxRequests)
	for i := 0; i < cfg.MaxRequests; i++ {
		e.free = append(e.free, &slot{})
	}
	return e
}

// Submit validates and enqueues req, returning its correlation ID. The
// request is transmitted on a future Tick once it reaches the head of
// the FIFO and the send permit is free.
func (e *Engine) Submit(req Request) (uuid.UUID, error) {
	if err := validate(req); err != nil {
		return uuid.Nil, err
	}
	if len(e.free) == 0 {
		return uuid.Nil, ErrPoolExhausted
	}

	n := len(e.free) - 1
	s := e.free[n]
	e.free = e.free[:n]

	s.id = uuid.New()
	s.req = req
	s.req.WriteData = append([]byte(nil), req.WriteData...)
	s.state = slotPending
	s.attempts = 0
	s.elapsedMS = 0
	s.timeoutMS = req.TimeoutMS

	e.fifo = append(e.fifo, s)
	e.logger.Debug("master: request enqueued", "request_id", s.id, "slave", req.SlaveAddr, "function", req.Function)
	return s.id, nil
}

func validate(req Request) error {
	if req.TimeoutMS == 0 {
		return fmt.Errorf("%w: timeout_ms must be non-zero", ErrInvalidRequest)
	}
	switch req.Function {
	case modbus.FuncCodeReadHoldingRegisters:
		if req.RegCount < 1 || req.RegCount > modbus.MaxReadRegisters {
			return fmt.Errorf("%w: reg_count %d out of range", ErrInvalidRequest, req.RegCount)
		}
	case modbus.FuncCodeWriteMultipleRegister:
		if req.RegCount < 1 || req.RegCount > modbus.MaxWriteRegisters {
			return fmt.Errorf("%w: reg_count %d out of range", ErrInvalidRequest, req.RegCount)
		}
		if len(req.WriteData) != int(req.RegCount)*2 {
			return fmt.Errorf("%w: write_data length %d, want %d", ErrInvalidRequest, len(req.WriteData), int(req.RegCount)*2)
		}
	default:
		return fmt.Errorf("%w: function %#x not supported", ErrInvalidRequest, req.Function)
	}
	return nil
}

// Pending reports how many requests are enqueued (including the head, if
// any is in flight).
func (e *Engine) Pending() int { return len(e.fifo) }

// Tick drives one scheduling quantum: it drains available transport
// bytes into the RX ring, polls for the FIFO head's response, transmits
// the head if the send permit is free, and fires the head's callback on
// success, exception, or (after Repeats attempts) timeout. Until the head
// has been transmitted, frames already buffered are discarded rather than
// accepted as its response.
func (e *Engine) Tick(elapsedMS uint32) {
	e.drainRX()

	if len(e.fifo) == 0 {
		return
	}
	head := e.fifo[0]

	acceptResponses := head.attempts >= 1
	frame, ok := e.parser.Poll(head.req.SlaveAddr, acceptResponses)
	if ok {
		e.finish(head, resultFromFrame(head.id, frame))
		return
	}

	if e.sendPermit && head.state == slotPending {
		e.transmit(head)
		return
	}

	if head.state != slotAwaiting {
		return
	}

	head.elapsedMS += elapsedMS

	if head.timeoutMS != 0 && head.elapsedMS >= head.timeoutMS {
		if head.attempts < e.cfg.Repeats {
			e.transmit(head)
			return
		}
		e.finish(head, Result{ID: head.id, Err: ErrTimeout})
	}
}

func resultFromFrame(id uuid.UUID, f *rtuframe.Frame) Result {
	if f.IsException() {
		return Result{ID: id, Exception: f.ErrCode}
	}
	return Result{ID: id, Data: f.Data}
}

func (e *Engine) transmit(s *slot) {
	frame := buildRequestFrame(s.req)

	if err := e.transport.DirCtrl(transport.DirTX); err != nil {
		e.logger.Error("master: dir_ctrl(tx) failed", "request_id", s.id, "err", err)
	}
	if _, err := e.transport.Write(frame); err != nil {
		e.logger.Error("master: transport write failed", "request_id", s.id, "err", err)
	}
	if err := e.transport.DirCtrl(transport.DirRX); err != nil {
		e.logger.Error("master: dir_ctrl(rx) failed", "request_id", s.id, "err", err)
	}

	s.attempts++
	s.elapsedMS = 0
	s.state = slotAwaiting
	e.sendPermit = false
	e.logger.Debug("master: request transmitted", "request_id", s.id, "attempt", s.attempts)
}

func (e *Engine) finish(s *slot, res Result) {
	e.fifo = e.fifo[1:]
	e.sendPermit = true
	if s.req.Callback != nil {
		s.req.Callback(res)
	}
	s.req = Request{}
	e.free = append(e.free, s)
}

// drainRX pulls whatever bytes the transport currently has available
// into the RX ring, up to FrameMax at a time, matching spec.md §4.5's
// "drain up to FRAME_MAX bytes per tick" budget.
func (e *Engine) drainRX() {
	var buf [modbus.FrameMax]byte
	n, err := e.transport.Read(buf[:])
	if err != nil {
		e.logger.Debug("master: transport read error", "err", err)
		return
	}
	if n > 0 {
		e.rx.Add(buf[:n])
	}
}

func buildRequestFrame(req Request) []byte {
	var payload []byte
	switch req.Function {
	case modbus.FuncCodeReadHoldingRegisters:
		payload = []byte{
			byte(req.RegAddr >> 8), byte(req.RegAddr),
			byte(req.RegCount >> 8), byte(req.RegCount),
		}
	case modbus.FuncCodeWriteMultipleRegister:
		payload = make([]byte, 0, 5+len(req.WriteData))
		payload = append(payload,
			byte(req.RegAddr>>8), byte(req.RegAddr),
			byte(req.RegCount>>8), byte(req.RegCount),
			byte(len(req.WriteData)),
		)
		payload = append(payload, req.WriteData...)
	}

	body := make([]byte, 0, 2+len(payload))
	body = append(body, req.SlaveAddr, req.Function)
	body = append(body, payload...)

	v := crc.Bulk(body)
	lo, hi := crc.ToWire(v)
	return append(body, lo, hi)
}
