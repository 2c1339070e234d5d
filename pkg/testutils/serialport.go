// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package testutils provides mock serial ports for tests.
package testutils

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/Thermoquad/vestat/pkg/serconnect"
)

// ErrMockPortClosed is returned by Read after Close
var ErrMockPortClosed = errors.New("mock port closed")

// MockPort is an in-memory serconnect.Port.
//
// Read hands out the queued data in chunks. When the data runs out the port
// either refills it from the repeat frame, blocks until Close, returns the
// configured error, or behaves like an expired read timeout (0, nil).
type MockPort struct {
	mu          sync.Mutex
	data        []byte
	repeat      []byte
	err         error
	chunk       int
	idle        time.Duration
	readTimeout time.Duration
	block       bool
	done        chan struct{}
	closed      bool
	closeCalls  int
	reads       int
}

// NewMockPort creates a port that serves data once
func NewMockPort(data []byte) *MockPort {
	return &MockPort{data: append([]byte(nil), data...), chunk: 64, done: make(chan struct{})}
}

// NewRepeatingPort creates a port that serves frame over and over
func NewRepeatingPort(frame []byte) *MockPort {
	return &MockPort{repeat: append([]byte(nil), frame...), chunk: 64, done: make(chan struct{})}
}

// NewSilentPort creates a port that never sends data. Read blocks until Close,
// like a port opened without a read timeout.
func NewSilentPort() *MockPort {
	return &MockPort{chunk: 64, block: true, done: make(chan struct{})}
}

// FailWith makes Read return err once the data is exhausted
func (m *MockPort) FailWith(err error) *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithIdle makes an empty read sleep for d before returning, like a real read timeout
func (m *MockPort) WithIdle(d time.Duration) *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle = d
	return m
}

// Read implements serconnect.Port
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrMockPortClosed
	}
	m.reads++

	if len(m.data) == 0 && m.repeat != nil {
		m.data = append(m.data, m.repeat...)
	}
	if len(m.data) == 0 {
		err, idle, block := m.err, m.idle, m.block
		m.mu.Unlock()
		if block {
			<-m.done
			return 0, ErrMockPortClosed
		}
		if err != nil {
			return 0, err
		}
		if idle > 0 {
			time.Sleep(idle)
		}
		return 0, nil
	}

	n := min(len(p), m.chunk, len(m.data))
	copy(p, m.data[:n])
	m.data = m.data[n:]
	m.mu.Unlock()
	return n, nil
}

// Close implements serconnect.Port
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.done)
	}
	m.closed = true
	m.closeCalls++
	return nil
}

// SetReadTimeout implements serconnect.Port
func (m *MockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = t
	return nil
}

// ReadTimeout returns the timeout set on the port
func (m *MockPort) ReadTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readTimeout
}

// Closed reports whether Close was called
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseCalls returns the number of Close calls
func (m *MockPort) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// MockPortFactory hands out mock ports by path and records every open
type MockPortFactory struct {
	mu     sync.Mutex
	ports  map[string][]func() (serconnect.Port, error)
	opened map[string]int
	modes  []*serial.Mode
}

// NewMockPortFactory creates an empty factory. Unknown paths fail to open.
func NewMockPortFactory() *MockPortFactory {
	return &MockPortFactory{
		ports:  make(map[string][]func() (serconnect.Port, error)),
		opened: make(map[string]int),
	}
}

// Add queues a port for path. Ports queued for the same path are handed out in
// order; the last one is reused once the queue is drained.
func (f *MockPortFactory) Add(path string, newPort func() (serconnect.Port, error)) *MockPortFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports[path] = append(f.ports[path], newPort)
	return f
}

// AddPort queues a fixed port for path
func (f *MockPortFactory) AddPort(path string, port *MockPort) *MockPortFactory {
	return f.Add(path, func() (serconnect.Port, error) { return port, nil })
}

// Open implements serconnect.PortFactory
func (f *MockPortFactory) Open(path string, mode *serial.Mode) (serconnect.Port, error) {
	f.mu.Lock()
	f.opened[path]++
	f.modes = append(f.modes, mode)
	queue := f.ports[path]
	if len(queue) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("failed to open serial port: %w", &serial.PortError{})
	}
	next := queue[0]
	if len(queue) > 1 {
		f.ports[path] = queue[1:]
	}
	f.mu.Unlock()
	return next()
}

// Opened returns how many times path was opened
func (f *MockPortFactory) Opened(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[path]
}

// Modes returns the modes passed to Open
func (f *MockPortFactory) Modes() []*serial.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*serial.Mode(nil), f.modes...)
}
