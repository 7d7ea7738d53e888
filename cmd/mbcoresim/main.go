// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command mbcoresim is a demo/test harness, not a shipped product CLI
// (spec.md's Non-goals exclude "the CLI" and "configuration loading" as
// product surfaces): it wires one master.Engine and one slave.Engine
// together, over either an in-process transport/loopback pair or a real
// transport/rtuserial port, and drives them with scheduler.Scheduler so a
// developer can watch the engine exchange frames without real RS-485
// hardware. It is grounded on the teacher's main.go wiring pattern
// (config.LoadConfig → setupLogger → construct → run until signal).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ffutop/mbcore/internal/config"
	"github.com/ffutop/mbcore/internal/obs"
	"github.com/ffutop/mbcore/master"
	"github.com/ffutop/mbcore/modbus"
	"github.com/ffutop/mbcore/scheduler"
	"github.com/ffutop/mbcore/slave"
	"github.com/ffutop/mbcore/slave/store"
	"github.com/ffutop/mbcore/transport"
	"github.com/ffutop/mbcore/transport/loopback"
	"github.com/ffutop/mbcore/transport/rtuserial"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "mbcoresim: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(obs.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	slog.SetDefault(logger)

	slog.Info("mbcoresim starting", "transport", cfg.Transport, "period_ms", cfg.PeriodMS)

	masterSide, slaveSide, cleanup, err := buildTransports(cfg)
	if err != nil {
		slog.Error("failed to build transport", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	regFile, err := store.Open(registerFilePath(cfg), 0x0000, 0x0020, logger)
	if err != nil {
		slog.Error("failed to open register store", "err", err)
		os.Exit(1)
	}
	defer regFile.Close()

	slaveAddr := byte(cfg.SlaveAddr)
	slaveEngine, err := slave.New(slaveSide, slaveAddr, []slave.WorkEntry{
		{RegStart: 0x0000, RegEnd: 0x0020, Handler: regFile},
	}, slave.Config{Logger: logger})
	if err != nil {
		slog.Error("failed to build slave engine", "err", err)
		os.Exit(1)
	}

	masterEngine := master.New(masterSide, master.Config{
		MaxRequests: cfg.MaxRequests,
		Repeats:     cfg.MasterRepeats,
		NoRetries:   cfg.NoRetries,
		Logger:      logger,
	})

	sched := scheduler.New()
	sched.Register(scheduler.Task{
		Name:     "slave",
		TaskFunc: func() { slaveEngine.Tick(cfg.PeriodMS) },
		PeriodMS: cfg.PeriodMS,
	})
	sched.Register(scheduler.Task{
		Name:     "master",
		TaskFunc: func() { masterEngine.Tick(cfg.PeriodMS) },
		PeriodMS: cfg.PeriodMS,
	})
	sched.Register(scheduler.Task{
		Name:     "poll-demo-read",
		PeriodMS: 1000,
		TaskFunc: func() { submitDemoRead(masterEngine, slaveAddr, cfg.TimeoutMS, logger) },
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched.Run(ctx, cfg.PeriodMS)
	slog.Info("mbcoresim stopped")
}

func buildTransports(cfg *config.Config) (masterSide, slaveSide transport.Adapter, cleanup func(), err error) {
	switch cfg.Transport {
	case "serial":
		adapter := rtuserial.New(rtuserial.Config{
			Device:             cfg.Serial.Device,
			BaudRate:           cfg.Serial.BaudRate,
			DataBits:           cfg.Serial.DataBits,
			StopBits:           cfg.Serial.StopBits,
			Parity:             cfg.Serial.Parity,
			ReadTimeout:        cfg.Serial.Timeout,
			RS485:              cfg.Serial.RS485,
			RtsHighDuringSend:  cfg.Serial.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.Serial.RtsHighAfterSend,
			DelayRtsBeforeSend: cfg.Serial.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.Serial.DelayRtsAfterSend,
		})
		if err := adapter.Init(); err != nil {
			return nil, nil, nil, fmt.Errorf("open serial port: %w", err)
		}
		// A single shared RS-485 bus is both the master's and the
		// slave's transport: both engines read whatever is on the wire
		// and only their own address filtering (in rtuframe.Parser)
		// keeps them from answering each other.
		return adapter, adapter, func() { adapter.Close() }, nil
	default:
		a, b := loopback.NewPair()
		return a, b, func() { a.Close(); b.Close() }, nil
	}
}

func registerFilePath(cfg *config.Config) string {
	if cfg.Transport == "serial" {
		return cfg.Serial.Device + ".registers"
	}
	return os.TempDir() + "/mbcoresim-registers.bin"
}

func submitDemoRead(m *master.Engine, slaveAddr byte, timeoutMS uint32, logger *slog.Logger) {
	start := time.Now()
	_, err := m.Submit(master.Request{
		SlaveAddr: slaveAddr,
		Function:  modbus.FuncCodeReadHoldingRegisters,
		RegAddr:   0x0000,
		RegCount:  4,
		TimeoutMS: timeoutMS,
		Callback: func(res master.Result) {
			elapsed := time.Since(start)
			switch {
			case res.Err != nil:
				logger.Warn("demo read failed", "err", res.Err, "elapsed", elapsed)
			case res.Exception != 0:
				logger.Warn("demo read exception", "code", res.Exception, "elapsed", elapsed)
			default:
				logger.Info("demo read ok", "data", res.Data, "elapsed", elapsed)
			}
		},
	})
	if err != nil {
		logger.Debug("demo read not submitted", "err", err)
	}
}
