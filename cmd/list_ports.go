// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/serconnect"
)

var listPortsCmd = &cobra.Command{
	Use:   "list_ports",
	Short: "List serial ports that may carry a VE.Direct device",
	Long: `List the candidate ports the connect, monitor and mqtt commands probe.

On Linux and macOS these are USB serial adapters (ttyUSB*, ttyACM*) and
virtual modems (vmodem*) under /dev and /tmp. On Windows these are COM ports.
The configured serial port, if any, is probed first.`,
	Args: cobra.NoArgs,
	RunE: runListPorts,
}

func init() {
	rootCmd.AddCommand(listPortsCmd)
}

func runListPorts(cmd *cobra.Command, args []string) error {
	ports, err := serconnect.NewScanner().Scan()
	if err != nil {
		return err
	}

	if cfg.SerialPort != "" {
		fmt.Printf("%s (configured)\n", cfg.SerialPort)
	}
	for _, p := range ports {
		if p != cfg.SerialPort {
			fmt.Println(p)
		}
	}
	if len(ports) == 0 && cfg.SerialPort == "" {
		fmt.Println("No candidate ports found")
	}
	return nil
}
