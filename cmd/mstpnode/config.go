// go-mstp
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-mstp.
//
// go-mstp is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-mstp is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-mstp; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	mstp "github.com/ZaparooProject/go-mstp"
)

// fileConfig is the TOML layout of the -config file. Durations are Go
// duration strings ("500ms").
type fileConfig struct {
	Port              string `toml:"port"`
	DEPin             string `toml:"de_pin"`
	MQTT              string `toml:"mqtt"`
	Topic             string `toml:"topic"`
	LogDir            string `toml:"log_dir"`
	NoToken           string `toml:"no_token"`
	ReplyTimeout      string `toml:"reply_timeout"`
	ReplyDelay        string `toml:"reply_delay"`
	UsageTimeout      string `toml:"usage_timeout"`
	Slot              string `toml:"slot"`
	Baud              int    `toml:"baud"`
	Station           int    `toml:"station"`
	MaxMaster         int    `toml:"max_master"`
	MaxInfoFrames     int    `toml:"max_info_frames"`
	Npoll             int    `toml:"npoll"`
	RetryToken        int    `toml:"retry_token"`
	OutboxSize        int    `toml:"outbox_size"`
	DEActiveLow       bool   `toml:"de_active_low"`
	RTS               bool   `toml:"rts"`
	EchoSuppress      bool   `toml:"echo_suppress"`
	AcceptProprietary bool   `toml:"accept_proprietary"`
	Debug             bool   `toml:"debug"`
}

// nodeConfig is the resolved configuration of one run.
type nodeConfig struct {
	mstp         *mstp.Config
	port         string
	dePin        string
	mqttURL      string
	topic        string
	logDir       string
	deActiveLow  bool
	useRTS       bool
	echoSuppress bool
	debug        bool
	list         bool
	sniff        bool
}

func defaultNodeConfig() *nodeConfig {
	return &nodeConfig{mstp: mstp.DefaultConfig()}
}

// loadConfigFile applies the file at path over cfg.
func loadConfigFile(path string, cfg *nodeConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	m := cfg.mstp
	// baud first: it resets the bit-time parameters
	if meta.IsDefined("baud") {
		m.SetBaudRate(raw.Baud)
	}
	if meta.IsDefined("station") {
		if m.Station, err = address("station", raw.Station); err != nil {
			return err
		}
	}
	if meta.IsDefined("max_master") {
		if m.MaxMaster, err = address("max_master", raw.MaxMaster); err != nil {
			return err
		}
	}
	if meta.IsDefined("max_info_frames") {
		m.MaxInfoFrames = raw.MaxInfoFrames
	}
	if meta.IsDefined("npoll") {
		m.Npoll = raw.Npoll
	}
	if meta.IsDefined("retry_token") {
		m.RetryToken = raw.RetryToken
	}
	if meta.IsDefined("outbox_size") {
		m.OutboxSize = raw.OutboxSize
	}
	if meta.IsDefined("accept_proprietary") {
		m.AcceptProprietary = raw.AcceptProprietary
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"no_token", raw.NoToken, &m.NoToken},
		{"reply_timeout", raw.ReplyTimeout, &m.ReplyTimeout},
		{"reply_delay", raw.ReplyDelay, &m.ReplyDelay},
		{"usage_timeout", raw.UsageTimeout, &m.UsageTimeout},
		{"slot", raw.Slot, &m.Slot},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("port") {
		cfg.port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("de_pin") {
		cfg.dePin = strings.TrimSpace(raw.DEPin)
	}
	if meta.IsDefined("de_active_low") {
		cfg.deActiveLow = raw.DEActiveLow
	}
	if meta.IsDefined("rts") {
		cfg.useRTS = raw.RTS
	}
	if meta.IsDefined("echo_suppress") {
		cfg.echoSuppress = raw.EchoSuppress
	}
	if meta.IsDefined("mqtt") {
		cfg.mqttURL = strings.TrimSpace(raw.MQTT)
	}
	if meta.IsDefined("topic") {
		cfg.topic = strings.TrimSpace(raw.Topic)
	}
	if meta.IsDefined("log_dir") {
		cfg.logDir = strings.TrimSpace(raw.LogDir)
	}
	if meta.IsDefined("debug") {
		cfg.debug = raw.Debug
	}
	return nil
}

func address(key string, v int) (mstp.Address, error) {
	if v < 0 || v > int(mstp.BroadcastAddress) {
		return 0, fmt.Errorf("%s: %d is not a station address", key, v)
	}
	return mstp.Address(v), nil
}

// parseArgs resolves defaults, then the -config file, then the flags the
// user actually set.
func parseArgs(args []string, stderr io.Writer) (*nodeConfig, error) {
	fs := flag.NewFlagSet("mstpnode", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "TOML configuration file")
	port := fs.String("port", "", "Serial port of the EIA-485 adapter")
	baud := fs.Int("baud", 38400, "Line speed")
	station := fs.Int("station", 0, "This station's address (0-127)")
	maxMaster := fs.Int("max-master", int(mstp.MaxMasterAddress), "Highest master address on the line")
	maxInfoFrames := fs.Int("max-info-frames", 1, "Frames sent per token")
	dePin := fs.String("de-pin", "", "GPIO pin driving the transceiver DE/RE input (e.g. GPIO17)")
	rts := fs.Bool("rts", false, "Drive the transceiver from the RTS line")
	echo := fs.Bool("echo", false, "Discard the transceiver's echo of transmitted frames")
	mqttURL := fs.String("mqtt", "", "Bridge upper-layer frames to this broker (mqtt://host:1883)")
	topic := fs.String("topic", "", "MQTT topic prefix (default mstp/<station>)")
	debug := fs.Bool("debug", false, "Enable debug output")
	logDir := fs.String("log", "", "Directory for a session debug log")
	list := fs.Bool("list", false, "List serial ports and exit")
	sniff := fs.Bool("sniff", false, "Print every frame on the line without joining the token ring")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg := defaultNodeConfig()
	cfg.mstp.SetBaudRate(*baud)
	if *configPath != "" {
		if err := loadConfigFile(*configPath, cfg); err != nil {
			return nil, err
		}
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "port":
			cfg.port = *port
		case "baud":
			cfg.mstp.SetBaudRate(*baud)
		case "station":
			cfg.mstp.Station, err = address("station", *station)
		case "max-master":
			cfg.mstp.MaxMaster, err = address("max-master", *maxMaster)
		case "max-info-frames":
			cfg.mstp.MaxInfoFrames = *maxInfoFrames
		case "de-pin":
			cfg.dePin = *dePin
		case "rts":
			cfg.useRTS = *rts
		case "echo":
			cfg.echoSuppress = *echo
		case "mqtt":
			cfg.mqttURL = *mqttURL
		case "topic":
			cfg.topic = *topic
		case "debug":
			cfg.debug = *debug
		case "log":
			cfg.logDir = *logDir
		}
	})
	if err != nil {
		return nil, err
	}
	cfg.list = *list
	cfg.sniff = *sniff
	if cfg.sniff {
		cfg.mstp.Promiscuous = true
	}

	if cfg.list {
		return cfg, nil
	}
	if cfg.port == "" {
		return nil, errors.New("no serial port given (use -port or -list)")
	}
	if err := cfg.mstp.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
