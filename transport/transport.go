// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport declares the narrow set of capabilities the protocol
// engine (master and slave) requires from the embedder, and nothing more:
// init, non-blocking read, non-blocking write, and a direction-control
// request for half-duplex (RS-485) links. The engine never assumes Write
// blocks until bytes are physically on the wire (spec.md §4.3).
package transport

// Direction is the closed set of values DirCtrl accepts.
type Direction int

const (
	// DirRX requests the transport switch to (or remain) receive-only.
	DirRX Direction = iota
	// DirTX requests the transport switch to (or remain) transmit-only.
	DirTX
)

func (d Direction) String() string {
	if d == DirTX {
		return "tx"
	}
	return "rx"
}

// Adapter is the transport the engine consumes. It is supplied by the
// embedder and must never block: Read returns whatever is currently
// buffered (possibly zero bytes), Write enqueues what it can accept and
// returns short rather than blocking.
type Adapter interface {
	// Init prepares the underlying UART/DMA/GPIO. Neither master.New nor
	// slave.New calls it; the embedder calls Init once before ticking the
	// engines.
	Init() error

	// Read copies up to len(dst) currently-buffered bytes into dst and
	// returns the count, which may be 0.
	Read(dst []byte) (n int, err error)

	// Write enqueues up to len(src) bytes to the outbound path and
	// returns the count accepted, which may be less than len(src).
	Write(src []byte) (n int, err error)

	// DirCtrl requests a direction switch. Invoked by the engine
	// immediately before a write and after a completed exchange. The
	// precise timing of the physical pin toggle relative to the last
	// emitted bit is the embedder's responsibility — see package doc.
	DirCtrl(dir Direction) error
}
