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

// Command mstpnode runs one MS/TP master node on a serial EIA-485 line.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mstp "github.com/ZaparooProject/go-mstp"
	"github.com/ZaparooProject/go-mstp/bridge/mqtt"
	"github.com/ZaparooProject/go-mstp/polling"
	"github.com/ZaparooProject/go-mstp/transport/uart"
)

const statsInterval = 30 * time.Second

func listPorts(out io.Writer) error {
	ports, err := uart.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		_, _ = fmt.Fprintln(out, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		line := p.String()
		if p.LikelyAdapter() {
			line += " (USB-485 adapter)"
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

func openPort(cfg *nodeConfig) (*uart.Transport, error) {
	opts := uart.OptionsFromConfig(cfg.mstp)
	opts.EchoSuppress = cfg.echoSuppress
	opts.UseRTS = cfg.useRTS
	if cfg.dePin != "" {
		de, err := uart.OpenGPIO(cfg.dePin, cfg.deActiveLow)
		if err != nil {
			return nil, err
		}
		opts.DriverEnable = de
	}
	port, err := uart.New(cfg.port, opts)
	if err != nil {
		if opts.DriverEnable != nil {
			_ = opts.DriverEnable.Close()
		}
		return nil, err
	}
	return port, nil
}

// logHandler prints delivered frames when no broker is configured.
func logHandler(out io.Writer) mstp.Handler {
	return mstp.HandlerFunc(func(f *mstp.Frame) {
		_, _ = fmt.Fprintf(out, "%v from %d: %s\n", f.Type, f.Source, hex.EncodeToString(f.Data))
	})
}

// runDriver drives station until ctx ends, printing metrics now and then.
func runDriver(ctx context.Context, station polling.Station, out io.Writer) error {
	driver := polling.NewDriver(station, nil)
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start driver: %w", err)
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m := driver.Metrics()
			_, _ = fmt.Fprintf(out, "frames sent=%d valid=%d invalid=%d tokens=%d regenerations=%d stalls=%d\n",
				m.FramesSent, m.ValidFrames, m.InvalidFrames, m.TokensReceived, m.TokenRegenerations, m.Stalls)
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := driver.Stop(stopCtx); err != nil {
				return fmt.Errorf("failed to stop driver: %w", err)
			}
			return ctx.Err()
		}
	}
}

func run(ctx context.Context, cfg *nodeConfig, out io.Writer) error {
	if cfg.list {
		return listPorts(out)
	}

	port, err := openPort(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := port.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close port: %v\n", err)
		}
	}()

	if cfg.sniff {
		_, _ = fmt.Fprintf(out, "Sniffing %s at %d baud. Press Ctrl+C to stop...\n", cfg.port, cfg.mstp.BaudRate)
		return runDriver(ctx, newSniffer(cfg.mstp, port, out), out)
	}

	station, err := mstp.NewStation(cfg.mstp, port)
	if err != nil {
		return fmt.Errorf("failed to create station: %w", err)
	}

	if cfg.mqttURL != "" {
		bridge, err := mqtt.Connect(cfg.mqttURL, cfg.topic, cfg.mstp.Station, station)
		if err != nil {
			return err
		}
		defer func() { _ = bridge.Close() }()
		station.SetHandler(bridge)
		_, _ = fmt.Fprintf(out, "Bridging to %s under %s/\n", cfg.mqttURL, bridge.Prefix())
	} else {
		station.SetHandler(logHandler(out))
	}

	_, _ = fmt.Fprintf(out, "Station %d on %s at %d baud. Press Ctrl+C to stop...\n",
		cfg.mstp.Station, cfg.port, cfg.mstp.BaudRate)
	return runDriver(ctx, station, out)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseArgs(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.debug {
		mstp.SetDebugEnabled(true)
	}
	if cfg.logDir != "" {
		path, err := mstp.InitSessionLog(cfg.logDir)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Printf("Session log: %s\n", path)
		defer func() { _ = mstp.CloseSessionLog() }()
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
