// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var packetTestWait int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid VE.Direct packet",
	Long: `Wait for a valid VE.Direct packet on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
packet. It ignores partial frames, HEX messages and checksum failures, and
waits for a complete packet that passes the checksum.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestWait, "wait", 10, "Seconds to wait for a packet")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Vestat - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestWait)
	fmt.Printf("Waiting for valid VE.Direct packet...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(packetTestWait)*time.Second)
	defer cancel()

	packet, invalid, err := waitForPacket(ctx, conn)
	conn.Close()

	switch {
	case packet != nil:
		if invalid > 0 {
			fmt.Printf("(skipped %d invalid frames before sync)\n", invalid)
		}
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Blocks: %d\n", packet.Len())
		fmt.Printf("  Checksum: 0x%02X\n", packet.Checksum())
		if pid, ok := packet.Get("PID"); ok {
			fmt.Printf("  PID: %s\n", pid)
		}
		os.Exit(0)

	case vedirect.KindOf(err) == vedirect.KindReadTimeout || ctx.Err() != nil:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestWait)
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	return nil
}

// waitForPacket reads in the background so a blocking source cannot outlive ctx.
// It returns the packet, or the error that ended the wait, and the number of
// packet errors seen before it.
func waitForPacket(ctx context.Context, conn Source) (*vedirect.Packet, int, error) {
	type result struct {
		packet  *vedirect.Packet
		invalid int
		err     error
	}
	done := make(chan result, 1)

	go func() {
		invalid := 0
		reader := vedirect.NewReader(conn, vedirect.WithPacketErrorHandler(func(error) {
			invalid++
		}))
		for {
			packet, err := reader.ReadPacket(ctx)
			// Serial read timeouts are retried until ctx expires
			if vedirect.KindOf(err) == vedirect.KindReadTimeout && ctx.Err() == nil {
				continue
			}
			done <- result{packet: packet, invalid: invalid, err: err}
			return
		}
	}()

	select {
	case r := <-done:
		return r.packet, r.invalid, r.err
	case <-ctx.Done():
		return nil, 0, vedirect.NewError(vedirect.KindReadTimeout, "packet_test", ctx.Err())
	}
}
