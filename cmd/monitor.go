// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/vestat/pkg/controller"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Terminal dashboard of the connected device",
	Long: `Find the device like the connect command and show a live dashboard with
the connection state, decoder statistics and the latest value of every field.

Logs are not written to the terminal while the dashboard is open; use
--log-file to keep them.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	quietLogging()

	stats := vedirect.NewStatistics()
	p := tea.NewProgram(initialModel(stats))

	ctrl, err := newController(
		controller.WithStatistics(stats),
		controller.WithStateListener(func(state controller.State, port string) {
			p.Send(stateMsg{state: state, port: port})
		}),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer p.Quit()
		return ctrl.Run(gctx, func(packet *vedirect.Packet) {
			p.Send(packetMsg{packet: packet})
		})
	})

	g.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
