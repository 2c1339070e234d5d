// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/vestat/pkg/controller"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var connectFormat string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Find the device and print its packets",
	Long: `Probe the candidate serial ports until one carries packets that pass the
configured serial tests, then print every packet. When the connection is lost
the ports are scanned again.

The serial tests live in the [serialTest] tables of the config file:

  [serialTest.bmv]
  typeTest = "value"
  key = "PID"
  value = "0x203"

  [serialTest.history]
  typeTest = "columns"
  keys = ["H1", "H2"]

Without serial tests the first port that delivers a valid packet is used.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().StringVarP(&connectFormat, "format", "f", "text", "Output format (text, json, cbor)")
}

// newController builds the controller from the merged configuration
func newController(opts ...controller.Option) (*controller.Controller, error) {
	ccfg, err := cfg.ControllerConfig()
	if err != nil {
		return nil, err
	}
	return controller.New(ccfg, append([]controller.Option{controller.WithLogger(log.Logger)}, opts...)...)
}

func runConnect(cmd *cobra.Command, args []string) error {
	printPacket, err := newPacketPrinter(connectFormat, term.IsTerminal(int(os.Stdout.Fd())))
	if err != nil {
		return err
	}

	ctrl, err := newController()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Vestat - Connect\n")
	fmt.Fprintf(os.Stderr, "Serial tests: %d\n", len(ctrl.Config().Rules))
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = ctrl.Run(ctx, func(p *vedirect.Packet) {
		if err := printPacket(os.Stdout, p); err != nil {
			log.Error().Err(err).Msg("failed to print packet")
		}
	})
	if errors.Is(err, context.Canceled) {
		fmt.Fprint(os.Stderr, "\n"+ctrl.Statistics().String())
		return nil
	}
	return err
}
