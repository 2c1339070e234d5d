// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package serconnect opens VE.Direct serial links and finds candidate ports.
package serconnect

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port used by a Link (for mocking in tests)
type Port interface {
	Read(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// PortFactory opens a serial port
type PortFactory func(path string, mode *serial.Mode) (Port, error)

// DefaultPortFactory opens real serial ports with go.bug.st/serial
func DefaultPortFactory(path string, mode *serial.Mode) (Port, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// Mode returns the fixed VE.Direct serial settings: 19200 baud, 8N1
func Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: 19200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}
