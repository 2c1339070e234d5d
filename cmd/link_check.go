// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var linkCheckDuration int

var linkCheckCmd = &cobra.Command{
	Use:   "link_check",
	Short: "Test raw connection stability",
	Long: `Read the connection without decoding and report the byte rate.

Useful for telling a silent or unstable link (bad cable, wrong port, bridge
dropping the WebSocket) apart from a device sending corrupted frames.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runLinkCheck,
}

func init() {
	rootCmd.AddCommand(linkCheckCmd)
	linkCheckCmd.Flags().IntVar(&linkCheckDuration, "duration", 30, "Test duration in seconds")
}

func runLinkCheck(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkCheckDuration)

	// Reader goroutine, counts are reported once per second
	counts := make(chan int, 100)
	errChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go countBytes(conn, counts, errChan, done)

	start := time.Now()
	endTime := start.Add(time.Duration(linkCheckDuration) * time.Second)
	bytesReceived := 0
	secondBytes := 0
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		select {
		case n := <-counts:
			bytesReceived += n
			secondBytes += n

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-heartbeat.C:
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] %d bytes/s (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), secondBytes, remaining)
			secondBytes = 0
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", linkCheckDuration)
	fmt.Printf("Bytes received: %d\n", bytesReceived)
	if bytesReceived == 0 {
		fmt.Printf("Result: FAILED (no data)\n")
		os.Exit(1)
	}
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}

// countBytes reads src and sends the byte count every 100ms until a read fails
// or done is closed. Read timeouts are not failures.
func countBytes(src io.ByteReader, counts chan<- int, errs chan<- error, done <-chan struct{}) {
	n := 0
	last := time.Now()
	for {
		_, err := src.ReadByte()
		if err != nil && vedirect.KindOf(err) != vedirect.KindReadTimeout {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		if err == nil {
			n++
		}
		if time.Since(last) >= 100*time.Millisecond {
			select {
			case counts <- n:
			case <-done:
				return
			}
			n = 0
			last = time.Now()
		}
	}
}
