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
	"errors"
	"fmt"
)

// Error categories
var (
	// Frame errors
	ErrFrameTooLarge    = errors.New("frame data too large")
	ErrInvalidAddress   = errors.New("invalid station address")
	ErrInvalidFrameType = errors.New("invalid frame type")
	ErrVendorIDMissing  = errors.New("proprietary frame without vendor id")
	ErrIncompleteFrame  = errors.New("incomplete frame")

	// Receive errors, reported with an Invalid result
	ErrHeaderCRC     = errors.New("header CRC mismatch")
	ErrDataCRC       = errors.New("data CRC mismatch")
	ErrLengthInvalid = errors.New("frame length exceeds maximum")
	ErrFrameTimeout  = errors.New("inter-octet timeout")
	ErrLineError     = errors.New("receive line error")

	// Engine errors
	ErrOutboxFull     = errors.New("outbox full")
	ErrNoPendingReply = errors.New("no request is waiting for a reply")
	ErrReplyPending   = errors.New("a reply is already pending")

	// Transport errors
	ErrPortClosed = errors.New("port is closed")
	ErrPortBusy   = errors.New("port busy")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// PortError wraps physical-line failures with the operation and port name.
type PortError struct {
	Err  error
	Op   string
	Port string
}

func (e *PortError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// NewPortError builds a PortError.
func NewPortError(op, port string, err error) *PortError {
	return &PortError{Op: op, Port: port, Err: err}
}

// ConfigError describes a configuration value that failed validation.
type ConfigError struct {
	Value  any
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// IsReceiveError reports whether err describes a damaged or aborted frame.
func IsReceiveError(err error) bool {
	return errors.Is(err, ErrHeaderCRC) ||
		errors.Is(err, ErrDataCRC) ||
		errors.Is(err, ErrLengthInvalid) ||
		errors.Is(err, ErrFrameTimeout) ||
		errors.Is(err, ErrLineError)
}
