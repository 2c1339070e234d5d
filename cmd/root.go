// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/config"
)

var (
	// Serial connection flags
	portName    string
	readTimeout float64

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Config and logging flags
	configPath string
	logLevel   string
	logFile    string

	// cfg is the configuration file merged with the flags
	cfg *config.File

	appFs = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "vestat",
	Short: "Victron VE.Direct text protocol monitor",
	Long: `Vestat - A CLI tool for reading Victron VE.Direct devices.

Decodes the VE.Direct text protocol from battery monitors and solar charge
controllers, finds the device among the available serial ports and forwards
packets to the terminal or an MQTT broker.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--timeout 5]
  WebSocket: --url ws://host/path [--username user]

Settings are read from vestat.toml in the working directory, or from the file
given with --config. Flags override values from the file.

For WebSocket authentication, the password is read from the VESTAT_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().Float64VarP(&readTimeout, "timeout", "t", 5, "Serial read timeout in seconds (0 blocks)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to a rotating file")
}

// setup loads the configuration, applies flag overrides and configures logging
func setup(cmd *cobra.Command, _ []string) error {
	f, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		f.SerialPort = portName
	}
	if flags.Changed("timeout") {
		f.Timeout = readTimeout
	}
	if flags.Changed("log-level") {
		f.Logging.Level = logLevel
	}
	if flags.Changed("log-file") {
		f.Logging.File = logFile
	}
	cfg = f

	return setupLogging(f.Logging.Level, f.Logging.File)
}

func loadConfig() (*config.File, error) {
	if configPath != "" {
		return config.Load(appFs, configPath)
	}

	f, err := config.Load(appFs, config.DefaultFile)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.DefaultFile, err)
	}
	return f, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
