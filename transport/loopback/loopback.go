// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package loopback provides an in-process transport.Adapter pair for
// tests and the cmd/mbcoresim harness, standing in for the bench-top
// RS-485 cable spec.md assumes. It is modeled on the teacher's narrow
// Upstream/Downstream pairing (transport/transport.go) and on
// lumberbarons-modbus's pty-backed simulator, minus the pty: the core has
// no tty dependency worth exercising here, so two directly wired byte
// queues play the same role.
package loopback

import (
	"errors"
	"sync"

	"github.com/ffutop/mbcore/transport"
)

// ErrClosed is returned by Read/Write after Close.
var ErrClosed = errors.New("loopback: transport closed")

// side is one end of a Pair.
type side struct {
	mu       sync.Mutex
	inbox    []byte
	peer     *side
	closed   bool
	lastDir  byte // 0 = rx, 1 = tx; recorded for assertions in tests
	dirCalls int
}

// NewPair returns two transport.Adapter-shaped endpoints wired back to
// back: bytes written to a are readable from b and vice versa.
func NewPair() (a, b *Endpoint) {
	sa := &side{}
	sb := &side{}
	sa.peer = sb
	sb.peer = sa
	return &Endpoint{s: sa}, &Endpoint{s: sb}
}

// Endpoint implements transport.Adapter.
type Endpoint struct {
	s *side
}

var _ transport.Adapter = (*Endpoint)(nil)

func (e *Endpoint) Init() error { return nil }

func (e *Endpoint) Read(dst []byte) (int, error) {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := copy(dst, s.inbox)
	s.inbox = s.inbox[n:]
	return n, nil
}

func (e *Endpoint) Write(src []byte) (int, error) {
	peer := e.s.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return 0, ErrClosed
	}
	peer.inbox = append(peer.inbox, src...)
	return len(src), nil
}

// DirCtrl records the requested direction; the loopback has no physical
// pin to toggle, but tests can inspect DirCallCount/LastDirection to
// assert the engine requested TX before writing and RX after, per
// spec.md §4.3/§4.6.
func (e *Endpoint) DirCtrl(dir transport.Direction) error {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDir = byte(dir)
	s.dirCalls++
	return nil
}

// LastDirection returns the most recently requested direction.
func (e *Endpoint) LastDirection() transport.Direction {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return transport.Direction(e.s.lastDir)
}

// Close marks both ends closed.
func (e *Endpoint) Close() {
	e.s.mu.Lock()
	e.s.closed = true
	e.s.mu.Unlock()
	e.s.peer.mu.Lock()
	e.s.peer.closed = true
	e.s.peer.mu.Unlock()
}

// DirCallCount returns how many times DirCtrl has been invoked on this
// endpoint.
func (e *Endpoint) DirCallCount() int {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.s.dirCalls
}
