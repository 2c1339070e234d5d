// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Vestat - Victron VE.Direct Monitor
//
// A CLI tool for decoding the VE.Direct text protocol, finding the device
// among the serial ports and forwarding its packets.

package main

import (
	"os"

	"github.com/Thermoquad/vestat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
