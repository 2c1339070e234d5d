// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"errors"
	"time"

	"github.com/Thermoquad/vestat/pkg/sertest"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// Defaults
const (
	DefaultRescanInterval    = 2 * time.Second
	DefaultValidationPackets = 4
	DefaultValidationTimeout = 10 * time.Second
)

// Config holds the controller settings
type Config struct {
	// SerialPort is tried before the scanned candidates when set
	SerialPort string
	// Timeout is the serial read timeout, zero blocks until data arrives
	Timeout time.Duration
	// Rules decide whether a port carries the expected device
	Rules sertest.Rules
	// MaxPacketErrors is the consecutive packet error limit, zero is unlimited
	MaxPacketErrors int
	// RescanInterval is the wait after all candidates failed
	RescanInterval time.Duration
	// ValidationPackets is how many packets are merged while validating a port
	ValidationPackets int
	// ValidationTimeout bounds the validation of a single port
	ValidationTimeout time.Duration
}

// DefaultConfig returns a configuration with default timings and no rules
func DefaultConfig() Config {
	return Config{
		RescanInterval:    DefaultRescanInterval,
		ValidationPackets: DefaultValidationPackets,
		ValidationTimeout: DefaultValidationTimeout,
	}
}

// withDefaults fills unset timings
func (c Config) withDefaults() Config {
	if c.RescanInterval == 0 {
		c.RescanInterval = DefaultRescanInterval
	}
	if c.ValidationPackets == 0 {
		c.ValidationPackets = DefaultValidationPackets
	}
	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = DefaultValidationTimeout
	}
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	var err error
	switch {
	case c.Timeout < 0:
		err = errors.New("timeout must not be negative")
	case c.MaxPacketErrors < 0:
		err = errors.New("maxPacketErrors must not be negative")
	case c.RescanInterval < 0:
		err = errors.New("rescanInterval must not be negative")
	case c.ValidationPackets < 0:
		err = errors.New("validationPackets must not be negative")
	case c.ValidationTimeout < 0:
		err = errors.New("validationTimeout must not be negative")
	}
	if err != nil {
		return vedirect.NewError(vedirect.KindSettingInvalid, "config", err)
	}
	return nil
}
