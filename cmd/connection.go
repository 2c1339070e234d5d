// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/Thermoquad/vestat/pkg/serconnect"
)

// Source is a byte stream carrying VE.Direct text frames
type Source interface {
	io.ByteReader
	io.Closer
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection reads the bytes of a serial bridge that forwards the
// device output as WebSocket messages
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    atomic.Bool
}

// ReadByte returns the next byte, reading a new message when the buffer is drained
func (w *WebSocketConnection) ReadByte() (byte, error) {
	if w.closed.Load() {
		return 0, ErrConnectionClosed
	}

	for w.bufOffset >= len(w.buf) {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed.Store(true)
			return 0, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		// Bridges send the serial bytes as binary or text messages
		w.buf = data
		w.bufOffset = 0
	}

	b := w.buf[w.bufOffset]
	w.bufOffset++
	return b, nil
}

func (w *WebSocketConnection) Close() error {
	w.closed.Store(true)
	return w.conn.Close()
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify, //nolint:gosec // opt-in via --no-ssl-verify
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("VESTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens either the serial port or the WebSocket bridge given by
// the flags and configuration
func OpenConnection() (Source, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if cfg.SerialPort != "" {
		timeout := time.Duration(cfg.Timeout * float64(time.Second))
		link, err := serconnect.Open(cfg.SerialPort, timeout)
		if err != nil {
			return nil, "", err
		}
		mode := serconnect.Mode()
		return link, fmt.Sprintf("Serial: %s @ %d baud, timeout %s", cfg.SerialPort, mode.BaudRate, timeout), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}
