// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serconnect

import (
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

const readBufferSize = 256

var (
	// ErrLinkClosed is returned by ReadByte after Close
	ErrLinkClosed = errors.New("link closed")
	// ErrNoData is the cause of a read timeout
	ErrNoData = errors.New("no data before read timeout")
)

// Link is an open VE.Direct serial connection. It implements io.ByteReader.
// ReadByte is meant for a single reader; Close may be called from any goroutine.
type Link struct {
	port    Port
	path    string
	timeout time.Duration

	buf []byte
	pos int
	n   int

	mu     sync.Mutex
	closed bool
}

type linkOptions struct {
	factory PortFactory
}

// Option configures Open
type Option func(*linkOptions)

// WithPortFactory replaces the function used to open the port
func WithPortFactory(f PortFactory) Option {
	return func(o *linkOptions) {
		if f != nil {
			o.factory = f
		}
	}
}

// Open opens path at 19200 baud 8N1. A zero timeout makes reads block until data
// arrives; otherwise a read returning no data within timeout is a read timeout.
func Open(path string, timeout time.Duration, opts ...Option) (*Link, error) {
	o := linkOptions{factory: DefaultPortFactory}
	for _, opt := range opts {
		opt(&o)
	}

	if path == "" {
		return nil, &vedirect.Error{Kind: vedirect.KindSerialConf, Op: "open", Err: errors.New("empty port path")}
	}
	if timeout < 0 {
		return nil, &vedirect.Error{Kind: vedirect.KindSerialConf, Op: "open", Port: path, Err: errors.New("negative timeout")}
	}

	port, err := o.factory(path, Mode())
	if err != nil {
		return nil, &vedirect.Error{Kind: openErrorKind(err), Op: "open", Port: path, Err: err}
	}

	readTimeout := timeout
	if timeout == 0 {
		readTimeout = serial.NoTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		if closeErr := port.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Str("port", path).Msg("failed to close serial port")
		}
		return nil, &vedirect.Error{Kind: vedirect.KindSerialConf, Op: "set timeout", Port: path, Err: err}
	}

	log.Debug().Str("port", path).Dur("timeout", timeout).Msg("serial link open")

	return &Link{
		port:    port,
		path:    path,
		timeout: timeout,
		buf:     make([]byte, readBufferSize),
	}, nil
}

// Path returns the port path
func (l *Link) Path() string {
	return l.path
}

// Timeout returns the configured read timeout, zero when reads block
func (l *Link) Timeout() time.Duration {
	return l.timeout
}

// ReadByte returns the next byte from the port
func (l *Link) ReadByte() (byte, error) {
	if l.isClosed() {
		return 0, &vedirect.Error{Kind: vedirect.KindInputRead, Op: "read", Port: l.path, Err: ErrLinkClosed}
	}

	if l.pos < l.n {
		b := l.buf[l.pos]
		l.pos++
		return b, nil
	}

	n, err := l.port.Read(l.buf)
	if err != nil {
		return 0, &vedirect.Error{Kind: vedirect.KindInputRead, Op: "read", Port: l.path, Err: err}
	}
	if n == 0 {
		return 0, &vedirect.Error{Kind: vedirect.KindReadTimeout, Op: "read", Port: l.path, Err: ErrNoData}
	}

	l.pos = 1
	l.n = n
	return l.buf[0], nil
}

// Close closes the port. Calling Close more than once is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.port.Close(); err != nil {
		return &vedirect.Error{Kind: vedirect.KindSerialDevice, Op: "close", Port: l.path, Err: err}
	}
	return nil
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// openErrorKind maps an open failure onto the serial connection error kinds
func openErrorKind(err error) vedirect.Kind {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErrorKind(portErr.Code())
	}
	if errors.Is(err, fs.ErrNotExist) {
		return vedirect.KindSerialDevice
	}
	return vedirect.KindOpenSerial
}

func portErrorKind(code serial.PortErrorCode) vedirect.Kind {
	switch code {
	case serial.PortNotFound, serial.InvalidSerialPort:
		return vedirect.KindSerialDevice
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
		serial.InvalidStopBits, serial.InvalidTimeoutValue:
		return vedirect.KindSerialConf
	default:
		return vedirect.KindOpenSerial
	}
}
