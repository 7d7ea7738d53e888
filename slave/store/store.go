// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store implements a slave.Handler backed by a memory-mapped
// file, so register values an embedder cares about survive a restart.
// It is grounded on the teacher's persistence.MmapStorage (internal/
// local-slave/persistence/mmap.go) and its Storage{Load,Save,OnWrite}
// shape, but ports the raw syscall.Mmap/Munmap/Msync calls to
// github.com/edsrzf/mmap-go (a dependency the teacher's go.mod already
// carried but never imported) and narrows scope from the teacher's full
// four-table DataModel down to the single contiguous holding-register
// range one slave.WorkEntry owns.
package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
)

// RegisterFile is a slave.Handler over RegCount big-endian uint16
// registers backed by a memory-mapped file of RegCount*2 bytes.
type RegisterFile struct {
	base  uint16
	count uint16

	path string
	file *os.File
	data mmap.MMap

	logger *slog.Logger
}

// Open maps (creating and zero-extending if necessary) path as the
// backing store for [base, base+count) registers.
func Open(path string, base, count uint16, logger *slog.Logger) (*RegisterFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	size := int64(count) * 2

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat %s: %w", path, err)
	}
	if fi.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: truncate %s to %d: %w", path, size, err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap %s: %w", path, err)
	}

	return &RegisterFile{
		base:   base,
		count:  count,
		path:   path,
		file:   f,
		data:   data,
		logger: logger,
	}, nil
}

// ReadHoldingRegisters implements slave.Handler.
func (r *RegisterFile) ReadHoldingRegisters(addr, count uint16) ([]byte, error) {
	off, err := r.offset(addr, count)
	if err != nil {
		return nil, err
	}
	out := make([]byte, count*2)
	copy(out, r.data[off:off+int(count)*2])
	return out, nil
}

// WriteMultipleRegisters implements slave.Handler. Every write is
// followed by an msync, matching the teacher's "OnWrite always syncs"
// policy (internal/local-slave/persistence/mmap.go's OnWrite) — this
// core has no separate flush-on-interval path, only flush-on-write,
// since register updates here are rare relative to poll rate.
func (r *RegisterFile) WriteMultipleRegisters(addr, count uint16, data []byte) error {
	off, err := r.offset(addr, count)
	if err != nil {
		return err
	}
	copy(r.data[off:off+int(count)*2], data)
	if err := r.data.Flush(); err != nil {
		r.logger.Error("store: flush failed", "path", r.path, "err", err)
		return fmt.Errorf("store: flush %s: %w", r.path, err)
	}
	return nil
}

// Get and Set give an embedder direct uint16 access to registers it owns
// (e.g. to seed initial values or sample a sensor), independent of the
// Modbus request path.
func (r *RegisterFile) Get(reg uint16) (uint16, error) {
	off, err := r.offset(reg, 1)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.data[off : off+2]), nil
}

func (r *RegisterFile) Set(reg, value uint16) error {
	off, err := r.offset(reg, 1)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(r.data[off:off+2], value)
	return nil
}

func (r *RegisterFile) offset(addr, count uint16) (int, error) {
	if addr < r.base || uint32(addr-r.base)+uint32(count) > uint32(r.count) {
		return 0, fmt.Errorf("store: [%d,%d) out of bounds for [%d,%d)", addr, addr+count, r.base, r.base+r.count)
	}
	return int(addr-r.base) * 2, nil
}

// Close flushes and unmaps the file.
func (r *RegisterFile) Close() error {
	if err := r.data.Flush(); err != nil {
		r.logger.Error("store: final flush failed", "path", r.path, "err", err)
	}
	if err := r.data.Unmap(); err != nil {
		return fmt.Errorf("store: unmap %s: %w", r.path, err)
	}
	return r.file.Close()
}
