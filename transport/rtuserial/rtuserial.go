// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuserial adapts a physical UART, reached through
// github.com/grid-x/serial, into the transport.Adapter the protocol
// engine consumes. It is grounded on the teacher's serialPort wrapper
// (transport/rtu/serial.go) but trades the blocking Send/Connect
// lifecycle for the engine's non-blocking Read/Write/DirCtrl contract:
// the engine polls, it never waits on us.
package rtuserial

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ffutop/mbcore/transport"
	"github.com/grid-x/serial"
)

// Config mirrors the RS-485 knobs the teacher's internal/config.SerialConfig
// exposes, trimmed to what a direction-switching adapter needs.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string

	// ReadTimeout bounds each non-blocking-ish Read call; the underlying
	// port is opened with this as its OS-level read deadline so Read
	// returns (possibly zero bytes) instead of hanging the poll loop.
	ReadTimeout time.Duration

	// RS485 direction control. When RS485 is set, Init enables the
	// driver's built-in RS485 mode with these delay/polarity fields, and
	// the driver toggles RTS around each Write; DirCtrl is then a no-op.
	RS485              bool
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
}

// Adapter implements transport.Adapter over a real serial port.
type Adapter struct {
	cfg  Config
	port io.ReadWriteCloser
}

var _ transport.Adapter = (*Adapter)(nil)

// New creates an Adapter. The port is not opened until Init is called.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Init() error {
	spCfg := &serial.Config{
		Address:  a.cfg.Device,
		BaudRate: a.cfg.BaudRate,
		DataBits: a.cfg.DataBits,
		StopBits: a.cfg.StopBits,
		Parity:   a.cfg.Parity,
		Timeout:  a.cfg.ReadTimeout,
	}
	if a.cfg.RS485 {
		spCfg.RS485.Enabled = true
		spCfg.RS485.RtsHighDuringSend = a.cfg.RtsHighDuringSend
		spCfg.RS485.RtsHighAfterSend = a.cfg.RtsHighAfterSend
		spCfg.RS485.DelayRtsBeforeSend = a.cfg.DelayRtsBeforeSend
		spCfg.RS485.DelayRtsAfterSend = a.cfg.DelayRtsAfterSend
	}
	port, err := serial.Open(spCfg)
	if err != nil {
		return fmt.Errorf("rtuserial: open %s: %w", a.cfg.Device, err)
	}
	a.port = port
	return nil
}

// Read returns whatever the port's read-timeout-bounded Read call yields;
// a timeout with zero bytes is not an error, matching transport.Adapter's
// "possibly 0" contract.
func (a *Adapter) Read(dst []byte) (int, error) {
	n, err := a.port.Read(dst)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (a *Adapter) Write(src []byte) (int, error) {
	return a.port.Write(src)
}

// DirCtrl is a no-op when the driver's RS485 support is enabled (it
// toggles RTS itself around each Write); otherwise it logs the
// requested direction for a board-specific GPIO hook to observe via the
// scheduler's deferred-task facility, per spec.md §4.3.
func (a *Adapter) DirCtrl(dir transport.Direction) error {
	if a.cfg.RS485 {
		return nil
	}
	slog.Debug("rtuserial: direction switch requested", "direction", dir)
	return nil
}

func (a *Adapter) Close() error {
	if a.port == nil {
		return nil
	}
	return a.port.Close()
}

type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}
