// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var rawLogFormat string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded packets as they arrive",
	Long: `Continuously decode and display VE.Direct packets as they arrive.

Each packet is printed with its timestamp, checksum and blocks in the order
the device sent them. Checksum and framing errors are printed inline and the
decoder resynchronises on the next frame.

Output formats:
  text - human-readable block listing (default)
  json - one JSON object per line, keys in wire order
  cbor - CBOR encoded packets; printed as hex when stdout is a terminal

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVarP(&rawLogFormat, "format", "f", "text", "Output format (text, json, cbor)")
}

// packetPrinter writes one packet in the selected output format
type packetPrinter func(w io.Writer, p *vedirect.Packet) error

func newPacketPrinter(format string, tty bool) (packetPrinter, error) {
	switch format {
	case "text":
		return func(w io.Writer, p *vedirect.Packet) error {
			_, err := fmt.Fprint(w, vedirect.FormatPacket(p))
			return err
		}, nil
	case "json":
		return func(w io.Writer, p *vedirect.Packet) error {
			line, err := vedirect.FormatPacketJSON(p)
			if err != nil {
				return err
			}
			_, err = io.WriteString(w, line)
			return err
		}, nil
	case "cbor":
		return func(w io.Writer, p *vedirect.Packet) error {
			data, err := p.MarshalCBOR()
			if err != nil {
				return err
			}
			if tty {
				_, err = fmt.Fprintln(w, hex.EncodeToString(data))
				return err
			}
			_, err = w.Write(data)
			return err
		}, nil
	default:
		return nil, vedirect.NewError(vedirect.KindSettingInvalid, "raw_log",
			fmt.Errorf("unknown format %q (use text, json or cbor)", format))
	}
}

func runRawLog(cmd *cobra.Command, args []string) error {
	tty := term.IsTerminal(int(os.Stdout.Fd()))
	printPacket, err := newPacketPrinter(rawLogFormat, tty)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Banner and errors go to stderr so binary output stays clean
	fmt.Fprintf(os.Stderr, "Vestat - Raw Packet Log\n")
	fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stats := vedirect.NewStatistics()
	reader := vedirect.NewReader(conn,
		vedirect.WithStatistics(stats),
		vedirect.WithMaxPacketErrors(cfg.Controller.MaxPacketErrors),
		vedirect.WithPacketErrorHandler(func(err error) {
			fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		}),
	)

	for {
		err := reader.Stream(ctx, func(p *vedirect.Packet) error {
			return printPacket(os.Stdout, p)
		})
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprint(os.Stderr, "\n"+stats.String())
			return nil
		case errors.Is(err, vedirect.ErrReadTimeout):
			log.Warn().Msg("no data received within the read timeout")
			continue
		case errors.Is(err, vedirect.ErrTooManyPacketErrors):
			log.Warn().Err(err).Msg("resynchronising")
			reader.Reset()
			continue
		case errors.Is(err, ErrConnectionClosed):
			log.Info().Msg("connection closed")
			return nil
		default:
			return err
		}
	}
}
