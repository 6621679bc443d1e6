// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mstp

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Debug logging state. The active logger is rebuilt whenever one of its
// outputs changes and read lock-free by the state machines.
var (
	logMu        sync.Mutex
	debugEnabled = false
	consoleOut   io.Writer
	activeLogger atomic.Pointer[zerolog.Logger]
)

func init() {
	// Enable debug logging if DEBUG environment variable is set
	if os.Getenv("MSTP_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
	rebuildLogger()
}

// rebuildLogger must be called with logMu held (or from init).
func rebuildLogger() {
	var writers []io.Writer
	if debugEnabled {
		out := consoleOut
		if out == nil {
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		}
		writers = append(writers, out)
	}
	if sessionLogWriter != nil {
		writers = append(writers, sessionLogWriter)
	}

	var l zerolog.Logger
	switch len(writers) {
	case 0:
		l = zerolog.Nop()
	case 1:
		l = zerolog.New(writers[0]).With().Timestamp().Logger()
	default:
		l = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	}
	activeLogger.Store(&l)
}

// debugEvent returns a debug-level event, or nil when nothing would be
// written. A nil *zerolog.Event discards every field and Msg call.
func debugEvent() *zerolog.Event {
	return activeLogger.Load().Debug()
}

// Debugf prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugf(format string, args ...any) {
	debugEvent().Msgf(format, args...)
}

// Debugln prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugln(args ...any) {
	e := debugEvent()
	if e == nil {
		return
	}
	e.Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// SetDebugEnabled allows programmatic control of debug logging
// Useful for testing or application-controlled debug modes
func SetDebugEnabled(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	debugEnabled = enabled
	rebuildLogger()
}

// SetDebugOutput replaces the console destination used while debug logging
// is enabled. Passing nil restores the default stdout console writer.
func SetDebugOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	consoleOut = w
	rebuildLogger()
}

// Logger returns the logger currently used for debug output.
func Logger() *zerolog.Logger {
	return activeLogger.Load()
}
