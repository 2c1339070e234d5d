// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the vestat TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/Thermoquad/vestat/pkg/controller"
	"github.com/Thermoquad/vestat/pkg/sertest"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// DefaultFile is the configuration file name looked up by the CLI
const DefaultFile = "vestat.toml"

// Duration is a time.Duration read from a TOML string ("2s", "500ms") or a
// number of seconds
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Controller holds the [controller] section
type Controller struct {
	MaxPacketErrors   int      `toml:"maxPacketErrors"`
	RescanInterval    Duration `toml:"rescanInterval"`
	ValidationPackets int      `toml:"validationPackets"`
	ValidationTimeout Duration `toml:"validationTimeout"`
}

// Logging holds the [logging] section
type Logging struct {
	Level string `toml:"level"`
	File  string `toml:"file,omitempty"`
}

// MQTT holds the [mqtt] section
type MQTT struct {
	Broker      string `toml:"broker,omitempty"`
	TopicPrefix string `toml:"topicPrefix"`
	ClientID    string `toml:"clientID,omitempty"`
	Username    string `toml:"username,omitempty"`
	Password    string `toml:"password,omitempty"`
}

// File is the vestat configuration file
type File struct {
	SerialPort string                        `toml:"serialPort,omitempty"`
	Timeout    float64                       `toml:"timeout"`
	SerialTest map[string]sertest.RuleConfig `toml:"serialTest,omitempty"`
	Controller Controller                    `toml:"controller"`
	Logging    Logging                       `toml:"logging"`
	MQTT       MQTT                          `toml:"mqtt"`
}

// Default returns the default configuration
func Default() *File {
	return &File{
		Timeout: 5,
		Controller: Controller{
			RescanInterval:    Duration{controller.DefaultRescanInterval},
			ValidationPackets: controller.DefaultValidationPackets,
			ValidationTimeout: Duration{controller.DefaultValidationTimeout},
		},
		Logging: Logging{Level: "info"},
		MQTT:    MQTT{TopicPrefix: "vestat/"},
	}
}

// Load reads and validates a configuration file. Values missing from the file
// keep their defaults.
func Load(fs afero.Fs, path string) (*File, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	f := Default()
	if err := toml.Unmarshal(data, f); err != nil {
		return nil, vedirect.NewError(vedirect.KindSettingInvalid, "load config",
			fmt.Errorf("failed to unmarshal %s: %w", path, err))
	}

	if _, err := f.ControllerConfig(); err != nil {
		return nil, err
	}
	return f, nil
}

// Save writes the configuration file
func Save(fs afero.Fs, path string, f *File) error {
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ControllerConfig converts the file into a controller configuration
func (f *File) ControllerConfig() (controller.Config, error) {
	if f.Timeout < 0 || math.IsNaN(f.Timeout) || math.IsInf(f.Timeout, 0) {
		return controller.Config{}, vedirect.NewError(vedirect.KindSettingInvalid, "config",
			errors.New("timeout must be a positive number of seconds"))
	}

	rules, err := sertest.Parse(f.SerialTest)
	if err != nil {
		return controller.Config{}, err
	}

	cfg := controller.Config{
		SerialPort:        f.SerialPort,
		Timeout:           time.Duration(f.Timeout * float64(time.Second)),
		Rules:             rules,
		MaxPacketErrors:   f.Controller.MaxPacketErrors,
		RescanInterval:    f.Controller.RescanInterval.Duration,
		ValidationPackets: f.Controller.ValidationPackets,
		ValidationTimeout: f.Controller.ValidationTimeout.Duration,
	}
	if err := cfg.Validate(); err != nil {
		return controller.Config{}, err
	}
	return cfg, nil
}
