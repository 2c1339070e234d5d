// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Thermoquad/vestat/pkg/serconnect"
	"github.com/Thermoquad/vestat/pkg/sertest"
	"github.com/Thermoquad/vestat/pkg/testutils"
	"github.com/Thermoquad/vestat/pkg/vedirect"
	"github.com/Thermoquad/vestat/pkg/vesim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================
// Test Helpers
// ============================================================

type staticScanner struct {
	mu    sync.Mutex
	ports []string
	scans int
}

func (s *staticScanner) Scan() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return append([]string(nil), s.ports...), nil
}

func (s *staticScanner) Scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

// transitions records state changes
type transitions struct {
	mu     sync.Mutex
	states []State
	ports  []string
}

func (tr *transitions) listen(state State, port string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states = append(tr.states, state)
	tr.ports = append(tr.ports, port)
}

func (tr *transitions) connected() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var ports []string
	for i, s := range tr.states {
		if s == StateConnected {
			ports = append(ports, tr.ports[i])
		}
	}
	return ports
}

func (tr *transitions) snapshot() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.states...)
}

func deviceStream(t *testing.T, device string) []byte {
	t.Helper()
	sim, err := vesim.New(device)
	require.NoError(t, err)
	stream, err := sim.Stream()
	require.NoError(t, err)
	return stream
}

func bmvRules(t *testing.T) sertest.Rules {
	t.Helper()
	value := "0x203"
	rules, err := sertest.Parse(map[string]sertest.RuleConfig{
		"PIDTest":      {TypeTest: sertest.TypeValue, Key: "PID", Value: &value},
		"columnsCheck": {TypeTest: sertest.TypeColumns, Keys: []string{"V", "I", "P", "CE", "SOC", "H18"}},
	})
	require.NoError(t, err)
	return rules
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.Rules = bmvRules(t)
	cfg.RescanInterval = 10 * time.Millisecond
	cfg.ValidationTimeout = time.Second
	return cfg
}

func runAsync(ctx context.Context, c *Controller, cb Callback) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, cb)
	}()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

// ============================================================
// Construction Tests
// ============================================================

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"negative max packet errors", func(c *Config) { c.MaxPacketErrors = -1 }},
		{"negative rescan", func(c *Config) { c.RescanInterval = -time.Second }},
		{"negative validation packets", func(c *Config) { c.ValidationPackets = -1 }},
		{"negative validation timeout", func(c *Config) { c.ValidationTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			c, err := New(cfg)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, vedirect.ErrSettingInvalid)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{}, WithScanner(&staticScanner{}))
	require.NoError(t, err)

	cfg := c.Config()
	assert.Equal(t, 2*time.Second, cfg.RescanInterval)
	assert.Equal(t, DefaultValidationPackets, cfg.ValidationPackets)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.Port())
}

func TestRun_NilCallback(t *testing.T) {
	c, err := New(DefaultConfig(), WithScanner(&staticScanner{}))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Run(context.Background(), nil), vedirect.ErrSettingInvalid)
}

// ============================================================
// Discovery Tests
// ============================================================

func TestRun_ConnectsToMatchingPort(t *testing.T) {
	noise := []byte("\r\nV\t1\r\n\x00\x01garbage:no newline")
	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB0", testutils.NewRepeatingPort(deviceStream(t, "bluesolar_1.23"))).
		AddPort("/dev/ttyUSB1", testutils.NewMockPort(noise)).
		AddPort("/dev/ttyACM0", testutils.NewRepeatingPort(deviceStream(t, "bmv702"))).
		AddPort("/tmp/vmodem0", testutils.NewRepeatingPort(deviceStream(t, "smartsolar_1.39")))
	scanner := &staticScanner{ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2", "/dev/ttyACM0", "/tmp/vmodem0"}}
	tr := &transitions{}

	c, err := New(testConfig(t),
		WithPortFactory(factory.Open),
		WithScanner(scanner),
		WithStateListener(tr.listen),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var packets []*vedirect.Packet
	done := runAsync(ctx, c, func(p *vedirect.Packet) {
		packets = append(packets, p)
		if len(packets) == 10 {
			cancel()
		}
	})

	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
	assert.Equal(t, []string{"/dev/ttyACM0"}, tr.connected())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.Port())

	// Candidates after the accepted port are never opened
	assert.Equal(t, 1, factory.Opened("/dev/ttyACM0"))
	assert.Zero(t, factory.Opened("/tmp/vmodem0"))

	require.Len(t, packets, 10)
	for _, p := range packets {
		if p.Has("PID") {
			pid, _ := p.Get("PID")
			assert.Equal(t, "0x203", pid)
		} else {
			assert.True(t, p.Has("H18"))
		}
	}
}

func TestRun_PacketOrder(t *testing.T) {
	sim, err := vesim.New("bmv702")
	require.NoError(t, err)
	want := sim.Packets()

	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB0", testutils.NewRepeatingPort(deviceStream(t, "bmv702")))

	c, err := New(testConfig(t),
		WithPortFactory(factory.Open),
		WithScanner(&staticScanner{ports: []string{"/dev/ttyUSB0"}}),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []*vedirect.Packet
	done := runAsync(ctx, c, func(p *vedirect.Packet) {
		got = append(got, p)
		if len(got) == len(want) {
			cancel()
		}
	})
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)

	// Validation packets are delivered first, nothing is dropped
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "packet %d", i)
	}
}

func TestRun_PreferredPortFirst(t *testing.T) {
	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB3", testutils.NewRepeatingPort(deviceStream(t, "bmv702"))).
		AddPort("/dev/ttyUSB0", testutils.NewRepeatingPort(deviceStream(t, "bmv702")))
	tr := &transitions{}

	cfg := testConfig(t)
	cfg.SerialPort = "/dev/ttyUSB3"
	c, err := New(cfg,
		WithPortFactory(factory.Open),
		WithScanner(&staticScanner{ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB3"}}),
		WithStateListener(tr.listen),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runAsync(ctx, c, func(*vedirect.Packet) { cancel() })
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)

	assert.Equal(t, []string{"/dev/ttyUSB3"}, tr.connected())
	assert.Zero(t, factory.Opened("/dev/ttyUSB0"))
}

func TestRun_RejectsWrongDevice(t *testing.T) {
	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB0", testutils.NewRepeatingPort(deviceStream(t, "bluesolar_1.23")))
	tr := &transitions{}

	c, err := New(testConfig(t),
		WithPortFactory(factory.Open),
		WithScanner(&staticScanner{ports: []string{"/dev/ttyUSB0"}}),
		WithStateListener(tr.listen),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delivered atomic.Int32
	done := runAsync(ctx, c, func(*vedirect.Packet) { delivered.Add(1) })

	require.Eventually(t, func() bool {
		return factory.Opened("/dev/ttyUSB0") >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
	assert.Empty(t, tr.connected())
	assert.Zero(t, delivered.Load())
	assert.Contains(t, tr.snapshot(), StateValidating)
}

func TestRun_SilentPortWithoutReadTimeout(t *testing.T) {
	silent := testutils.NewSilentPort()
	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB0", silent).
		AddPort("/dev/ttyUSB1", testutils.NewRepeatingPort(deviceStream(t, "bmv702")))
	tr := &transitions{}

	cfg := testConfig(t)
	cfg.Timeout = 0
	cfg.ValidationTimeout = 200 * time.Millisecond

	c, err := New(cfg,
		WithPortFactory(factory.Open),
		WithScanner(&staticScanner{ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}}),
		WithStateListener(tr.listen),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	done := runAsync(ctx, c, func(*vedirect.Packet) { cancel() })

	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"/dev/ttyUSB1"}, tr.connected())
	assert.True(t, silent.Closed())

	// The silent port goes straight from Probing back to Disconnected
	states := tr.snapshot()
	require.GreaterOrEqual(t, len(states), 3)
	assert.Equal(t, []State{StateProbing, StateDisconnected, StateProbing}, states[:3])
	assert.Equal(t, "/dev/ttyUSB0", tr.ports[0])
}

func TestRun_MaxPacketErrors(t *testing.T) {
	frame, err := vedirect.EncodeBlocks([]vedirect.Block{{Key: "PID", Value: "0x203"}, {Key: "V", Value: "12800"}})
	require.NoError(t, err)
	frame[len(frame)-1]++

	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB0", testutils.NewRepeatingPort(frame))

	cfg := testConfig(t)
	cfg.MaxPacketErrors = 3
	cfg.ValidationTimeout = time.Hour
	stats := vedirect.NewStatistics()

	c, err := New(cfg,
		WithPortFactory(factory.Open),
		WithScanner(&staticScanner{ports: []string{"/dev/ttyUSB0"}}),
		WithStatistics(stats),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, c, func(*vedirect.Packet) {})

	// Each attempt gives up after four checksum errors in a row
	require.Eventually(t, func() bool {
		return factory.Opened("/dev/ttyUSB0") >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
	assert.GreaterOrEqual(t, stats.Snapshot().ChecksumErrors, uint64(4))
	assert.Same(t, stats, c.Statistics())
}

// ============================================================
// Reconnection Tests
// ============================================================

func TestRun_Reconnects(t *testing.T) {
	stream := deviceStream(t, "bmv702")
	severed := testutils.NewMockPort(stream).FailWith(io.ErrUnexpectedEOF)
	restored := testutils.NewRepeatingPort(stream)

	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB0", severed).
		AddPort("/dev/ttyUSB0", restored)
	tr := &transitions{}

	c, err := New(testConfig(t),
		WithPortFactory(factory.Open),
		WithScanner(&staticScanner{ports: []string{"/dev/ttyUSB0"}}),
		WithStateListener(tr.listen),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	packetsPerDump := len(stream) // upper bound, only used to bound the test
	var count int
	done := runAsync(ctx, c, func(*vedirect.Packet) {
		count++
		if len(tr.connected()) >= 2 || count > packetsPerDump {
			cancel()
		}
	})
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)

	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB0"}, tr.connected())
	assert.True(t, severed.Closed())
	assert.Equal(t, 2, factory.Opened("/dev/ttyUSB0"))

	// Connected, lost, then connected again
	states := tr.snapshot()
	first := indexOf(states, StateConnected, 0)
	require.GreaterOrEqual(t, first, 0)
	lost := indexOf(states, StateDisconnected, first)
	require.Greater(t, lost, first)
	assert.Greater(t, indexOf(states, StateConnected, lost), lost)
}

func indexOf(states []State, want State, from int) int {
	for i := from; i < len(states); i++ {
		if states[i] == want {
			return i
		}
	}
	return -1
}

func TestRun_RescanInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	scanner := &staticScanner{}

	c, err := New(DefaultConfig(),
		WithScanner(scanner),
		WithClock(clock),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, c, func(*vedirect.Packet) {})

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 1, scanner.Scans())

	clock.Advance(time.Second)
	assert.Equal(t, 1, scanner.Scans(), "no re-scan before the interval")

	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 2, scanner.Scans())

	cancel()
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRun_StateObservable(t *testing.T) {
	factory := testutils.NewMockPortFactory().
		AddPort("/dev/ttyUSB0", testutils.NewRepeatingPort(deviceStream(t, "bmv702")).WithIdle(time.Millisecond))

	c, err := New(testConfig(t),
		WithPortFactory(factory.Open),
		WithScanner(&staticScanner{ports: []string{"/dev/ttyUSB0"}}),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, c, func(*vedirect.Packet) {})

	require.Eventually(t, func() bool {
		return c.State() == StateConnected && c.Port() == "/dev/ttyUSB0"
	}, 5*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
}

func TestDefaultScannerIsSerconnect(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	_, ok := c.scanner.(*serconnect.Scanner)
	assert.True(t, ok)
}
