// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/Thermoquad/vestat/pkg/serconnect"
	"github.com/Thermoquad/vestat/pkg/vesim"
)

var (
	simDevice   string
	simDump     string
	simOutput   string
	simInterval time.Duration
	simLoops    int
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Replay a device dump as VE.Direct frames",
	Long: `Write the packets of a recorded device to a serial port, one packet per
interval, as the device would.

Built-in devices: ` + strings.Join(vesim.Devices(), ", ") + `

A custom dump holds one "key<TAB>value" line per block; a Checksum line ends
each packet. Pair the output with a virtual serial port, for example:

  socat -d -d pty,raw,echo=0,link=/tmp/vmodem0 pty,raw,echo=0,link=/tmp/vmodem1
  vestat sim --device bmv702 --output /tmp/vmodem1
  vestat connect

Use --output - to write the frames to stdout.`,
	Args: cobra.NoArgs,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringVarP(&simDevice, "device", "d", "bmv702", "Built-in device dump")
	simCmd.Flags().StringVar(&simDump, "dump", "", "Custom dump file (overrides --device)")
	simCmd.Flags().StringVarP(&simOutput, "output", "o", "", "Output serial port (default --port)")
	simCmd.Flags().DurationVar(&simInterval, "interval", vesim.DefaultInterval, "Delay between packets")
	simCmd.Flags().IntVar(&simLoops, "loops", 0, "Number of dump replays (0 repeats forever)")
}

func newSimulator() (*vesim.Simulator, error) {
	opts := []vesim.Option{
		vesim.WithInterval(simInterval),
		vesim.WithLoops(simLoops),
		vesim.WithLogger(log.Logger),
	}
	if simDump != "" {
		return vesim.Load(appFs, simDump, opts...)
	}
	return vesim.New(simDevice, opts...)
}

func openSimOutput() (io.WriteCloser, string, error) {
	output := simOutput
	if output == "" {
		output = cfg.SerialPort
	}
	switch output {
	case "":
		return nil, "", errors.New("either --output or --port must be specified")
	case "-":
		return os.Stdout, "stdout", nil
	}

	port, err := serial.Open(output, serconnect.Mode())
	if err != nil {
		return nil, "", fmt.Errorf("failed to open serial port %s: %w", output, err)
	}
	return port, output, nil
}

func runSim(cmd *cobra.Command, args []string) error {
	sim, err := newSimulator()
	if err != nil {
		return err
	}

	out, name, err := openSimOutput()
	if err != nil {
		return err
	}
	defer out.Close()

	fmt.Fprintf(os.Stderr, "Vestat - Simulator\n")
	fmt.Fprintf(os.Stderr, "Device: %s (%d packets)\n", sim.Name(), len(sim.Packets()))
	fmt.Fprintf(os.Stderr, "Output: %s, every %s\n", name, simInterval)
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	written, err := sim.Run(ctx, out)
	log.Info().Int("frames", written).Msg("simulator stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
