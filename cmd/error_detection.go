// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/sertest"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var (
	showAll       bool
	statsInterval int
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze corrupted frames",
	Long: `Track checksum and framing errors with periodic statistics.

This command reads the connection given by --port or --url and reports:
  - Checksum failures and framing violations
  - Packets exceeding the block limit
  - Serial test failures on the merged device snapshot
  - Statistics and trends (packet rate, error rate, success rate)

Errors before the first valid packet are counted as synchronisation noise.
By default, only errors are displayed. Use --show-all to display valid packets too.`,
	Args: cobra.NoArgs,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> FRAME DISCARDED <<<\n\n")
}

// printRuleFailures prints the serial tests the merged snapshot does not pass
func printRuleFailures(packet *vedirect.Packet, failed []string) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mSERIAL TEST FAILED:\033[0m %s\n", timestamp, strings.Join(failed, ", "))
	if pid, ok := packet.Get("PID"); ok {
		fmt.Printf("  PID: %s\n", pid)
	}
	fmt.Println()
}

// detector tracks synchronisation and serial tests across packets
type detector struct {
	rules         sertest.Rules
	snapshot      *vedirect.Packet
	merged        int
	snapshotLimit int
	synchronized  bool
	invalidBefore int
}

func (d *detector) packetError(err error) {
	if !d.synchronized {
		d.invalidBefore++
		return
	}
	printDecodeError(err)
}

func (d *detector) packet(p *vedirect.Packet) {
	if !d.synchronized {
		d.synchronized = true
		if d.invalidBefore > 0 {
			fmt.Printf("[SYNC] Synchronized after skipping %d invalid frames\n\n", d.invalidBefore)
		} else {
			fmt.Printf("[SYNC] Synchronized\n\n")
		}
	}

	if showAll {
		fmt.Print(vedirect.FormatPacket(p))
	}

	if len(d.rules) == 0 {
		return
	}
	d.snapshot.Merge(p)
	d.merged++
	if d.merged < d.snapshotLimit {
		return
	}
	if failed := d.rules.Failed(d.snapshot); len(failed) > 0 {
		printRuleFailures(d.snapshot, failed)
	}
	d.snapshot = vedirect.NewPacket()
	d.merged = 0
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	ccfg, err := cfg.ControllerConfig()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Vestat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	fmt.Printf("Serial tests: %d\n", len(ccfg.Rules))
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	d := &detector{
		rules:         ccfg.Rules,
		snapshot:      vedirect.NewPacket(),
		snapshotLimit: ccfg.ValidationPackets,
	}

	// Reader goroutine, packets and errors are handled on the main loop
	type readResult struct {
		packet    *vedirect.Packet
		packetErr error
		err       error
	}
	results := make(chan readResult, 16)
	send := func(r readResult) bool {
		select {
		case results <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	stats := vedirect.NewStatistics()
	reader := vedirect.NewReader(conn,
		vedirect.WithStatistics(stats),
		vedirect.WithPacketErrorHandler(func(err error) {
			send(readResult{packetErr: err})
		}),
	)

	go func() {
		defer close(results)
		for {
			packet, err := reader.ReadPacket(ctx)
			if vedirect.KindOf(err) == vedirect.KindReadTimeout && ctx.Err() == nil {
				continue
			}
			if !send(readResult{packet: packet, err: err}) || err != nil {
				return
			}
		}
	}()

	statsTicker := time.NewTicker(time.Duration(max(statsInterval, 1)) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case r, ok := <-results:
			if !ok || r.err != nil {
				fmt.Println()
				fmt.Print(stats.String())
				if !ok || errors.Is(r.err, context.Canceled) || errors.Is(r.err, ErrConnectionClosed) {
					return nil
				}
				return r.err
			}
			if r.packetErr != nil {
				d.packetError(r.packetErr)
				continue
			}
			d.packet(r.packet)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}
