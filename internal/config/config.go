// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the tunables for the cmd/mbcoresim demo harness:
// scheduler period, master pool/retry/timeout settings, and transport
// selection. It is grounded on the teacher's internal/config.LoadConfig
// (viper.New + mapstructure unmarshal), with the pflag-to-viper binding
// from the teacher's root config.go folded in so the same knobs are
// settable from either a YAML file or the command line. The master/slave
// engine packages themselves take plain Go structs — this loader exists
// for the harness, not for the engine, per spec.md's Non-goals around
// "configuration loading" and "the CLI" as shipped product surfaces.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the harness's full set of tunables.
type Config struct {
	PeriodMS      uint32 `mapstructure:"period_ms"`
	MaxRequests   int    `mapstructure:"max_requests"`
	MasterRepeats int    `mapstructure:"master_repeats"`
	NoRetries     bool   `mapstructure:"no_retries"`
	TimeoutMS     uint32 `mapstructure:"timeout_ms"`
	SlaveAddr     int    `mapstructure:"slave_addr"`

	// Transport selects which transport/ adapter backs the simulation:
	// "loopback" (default, no hardware) or "serial" (github.com/grid-x/serial).
	Transport string       `mapstructure:"transport"`
	Serial    SerialConfig `mapstructure:"serial"`

	Log LogConfig `mapstructure:"log"`
}

// SerialConfig mirrors transport/rtuserial.Config's fields, loadable from
// YAML/flags instead of constructed in Go.
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`

	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
}

// LogConfig selects the slog level and destination (see internal/obs).
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load parses args (typically os.Args[1:]) against a fresh FlagSet bound
// to a fresh viper instance, then reads an optional YAML config file.
// Flags take precedence over the file; the file takes precedence over
// the defaults set below.
func Load(args []string) (*Config, error) {
	v := viper.New()
	fs := pflag.NewFlagSet("mbcoresim", pflag.ContinueOnError)

	v.SetDefault("period_ms", 10)
	v.SetDefault("max_requests", 32)
	v.SetDefault("master_repeats", 3)
	v.SetDefault("no_retries", false)
	v.SetDefault("timeout_ms", 200)
	v.SetDefault("slave_addr", 6)
	v.SetDefault("transport", "loopback")
	v.SetDefault("serial.device", "/tmp/mbcoresim")
	v.SetDefault("serial.baud_rate", 19200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.timeout", 500*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	configFile := fs.StringP("config", "c", "", "Path to a YAML config file.")
	fs.Uint32P("period_ms", "p", v.GetUint32("period_ms"), "Scheduler tick period in milliseconds.")
	fs.IntP("max_requests", "m", v.GetInt("max_requests"), "Master request-slot pool size.")
	fs.IntP("master_repeats", "r", v.GetInt("master_repeats"), "Maximum transmission attempts per request.")
	fs.Bool("no_retries", v.GetBool("no_retries"), "Collapse every request to exactly one attempt.")
	fs.Uint32P("timeout_ms", "t", v.GetUint32("timeout_ms"), "Per-attempt response timeout in milliseconds.")
	fs.Int("slave_addr", v.GetInt("slave_addr"), "Slave address the simulated slave answers as.")
	fs.StringP("transport", "T", v.GetString("transport"), "Transport: loopback or serial.")
	fs.String("serial.device", v.GetString("serial.device"), "Serial device path.")
	fs.StringP("log.level", "v", v.GetString("log.level"), "Log level: debug, info, warn, error.")
	fs.StringP("log.file", "L", v.GetString("log.file"), "Log file path ('-' or empty for stdout).")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Serial.Parity = strings.ToUpper(cfg.Serial.Parity)
	return &cfg, nil
}
