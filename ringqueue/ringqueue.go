// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package ringqueue implements the fixed-capacity, power-of-two,
// single-producer/single-consumer byte ring buffer that backs the RX/TX
// streams between transport and parser.
//
// The producer is the only goroutine allowed to call Add/AdvanceWr; the
// consumer is the only goroutine allowed to call Get/Peek. Index
// publication uses atomic loads/stores so the two sides never need a
// mutex, matching the discipline spec.md §4.1/§5 requires. In this
// module's single-threaded-cooperative model (poll is never re-entered)
// both sides are usually the same goroutine, but the atomics keep the
// type safe to share with an embedder's ISR-driven producer.
package ringqueue

import (
	"fmt"
	"sync/atomic"
)

// Byte is an SPSC ring buffer of bytes.
type Byte struct {
	buf  []byte
	mask uint32

	wr atomic.Uint32 // producer-owned
	rd atomic.Uint32 // consumer-owned
}

// NewByte allocates a byte ring of the given capacity. capacity must be a
// power of two and greater than zero.
func NewByte(capacity int) (*Byte, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ringqueue: capacity %d is not a power of two", capacity)
	}
	return &Byte{
		buf:  make([]byte, capacity),
		mask: uint32(capacity - 1),
	}, nil
}

// Capacity returns the ring's fixed element capacity.
func (r *Byte) Capacity() int { return len(r.buf) }

// Occupancy returns wr - rd, the number of elements currently queued.
func (r *Byte) Occupancy() int {
	return int(r.wr.Load() - r.rd.Load())
}

// RemainSpace returns how many elements can still be Add-ed before full.
func (r *Byte) RemainSpace() int {
	return len(r.buf) - r.Occupancy()
}

// IsEmpty reports rd == wr.
func (r *Byte) IsEmpty() bool {
	return r.rd.Load() == r.wr.Load()
}

// IsFull reports wr - rd == capacity.
func (r *Byte) IsFull() bool {
	return r.Occupancy() == len(r.buf)
}

// Add copies up to min(len(src), RemainSpace()) bytes into the ring and
// advances wr by the number actually copied. Returns that count.
func (r *Byte) Add(src []byte) int {
	space := r.RemainSpace()
	n := len(src)
	if n > space {
		n = space
	}
	if n == 0 {
		return 0
	}
	wr := r.wr.Load()
	r.copyIn(wr, src[:n])
	r.wr.Store(wr + uint32(n))
	return n
}

// AdvanceWr is for DMA-style producers that have already deposited bytes
// directly into the backing store obtained out-of-band and only need the
// index published. k is clamped to the remaining space.
func (r *Byte) AdvanceWr(k int) int {
	space := r.RemainSpace()
	if k > space {
		k = space
	}
	if k < 0 {
		k = 0
	}
	r.wr.Store(r.wr.Load() + uint32(k))
	return k
}

// Get copies up to min(len(dst), Occupancy()) bytes out of the ring into
// dst, advances rd by that count, and returns it.
func (r *Byte) Get(dst []byte) int {
	n := r.Peek(dst)
	r.rd.Store(r.rd.Load() + uint32(n))
	return n
}

// Peek is Get without advancing rd (non-destructive read).
func (r *Byte) Peek(dst []byte) int {
	occ := r.Occupancy()
	n := len(dst)
	if n > occ {
		n = occ
	}
	if n == 0 {
		return 0
	}
	r.copyOut(r.rd.Load(), dst[:n])
	return n
}

// Discard advances rd by up to min(k, Occupancy()) without copying
// anything out. (The parser's resync step moves rd with AdvanceRdTo
// instead.)
func (r *Byte) Discard(k int) int {
	occ := r.Occupancy()
	if k > occ {
		k = occ
	}
	if k < 0 {
		k = 0
	}
	r.rd.Store(r.rd.Load() + uint32(k))
	return k
}

// ReadCounter and WriteCounter expose the monotonic rd/wr counters. The
// frame parser's anchor/forward window walks this same index space
// (spec.md §3: "anchor and forward are absolute indices into the RX
// ring's monotonic index space").
func (r *Byte) ReadCounter() uint32  { return r.rd.Load() }
func (r *Byte) WriteCounter() uint32 { return r.wr.Load() }

// PeekAt reads a single byte at an absolute counter position without
// requiring it be the current read pointer. idx must satisfy
// rd <= idx < wr or the returned ok is false.
func (r *Byte) PeekAt(idx uint32) (b byte, ok bool) {
	rd, wr := r.rd.Load(), r.wr.Load()
	if idx < rd || idx >= wr {
		return 0, false
	}
	return r.buf[idx&r.mask], true
}

// AdvanceRdTo moves rd forward to an absolute counter value, used when the
// parser flushes a frame (anchor and rd both jump to forward).
func (r *Byte) AdvanceRdTo(idx uint32) {
	rd, wr := r.rd.Load(), r.wr.Load()
	if idx < rd {
		return
	}
	if idx > wr {
		idx = wr
	}
	r.rd.Store(idx)
}

func (r *Byte) copyIn(startCounter uint32, src []byte) {
	cap := uint32(len(r.buf))
	pos := startCounter & r.mask
	first := cap - pos
	if first > uint32(len(src)) {
		first = uint32(len(src))
	}
	copy(r.buf[pos:pos+first], src[:first])
	if first < uint32(len(src)) {
		copy(r.buf[0:uint32(len(src))-first], src[first:])
	}
}

func (r *Byte) copyOut(startCounter uint32, dst []byte) {
	cap := uint32(len(r.buf))
	pos := startCounter & r.mask
	first := cap - pos
	if first > uint32(len(dst)) {
		first = uint32(len(dst))
	}
	copy(dst[:first], r.buf[pos:pos+first])
	if first < uint32(len(dst)) {
		copy(dst[first:], r.buf[0:uint32(len(dst))-first])
	}
}
