// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controller finds the serial port carrying the expected VE.Direct
// device, keeps it connected and delivers its packets.
package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/vestat/pkg/serconnect"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// Callback receives every packet of the connected device, in arrival order
type Callback func(*vedirect.Packet)

// StateListener is notified of every state transition
type StateListener func(state State, port string)

// PortScanner lists candidate ports
type PortScanner interface {
	Scan() ([]string, error)
}

// Controller runs the Disconnected, Probing, Validating, Connected state machine.
// Run is single-flow; State and Port may be read from any goroutine.
type Controller struct {
	cfg      Config
	factory  serconnect.PortFactory
	scanner  PortScanner
	clock    clockwork.Clock
	logger   zerolog.Logger
	stats    *vedirect.Statistics
	listener StateListener

	mu    sync.RWMutex
	state State
	port  string
}

// Option configures a Controller
type Option func(*Controller)

// WithPortFactory sets the function used to open serial ports
func WithPortFactory(f serconnect.PortFactory) Option {
	return func(c *Controller) {
		c.factory = f
	}
}

// WithScanner sets the candidate port scanner
func WithScanner(s PortScanner) Option {
	return func(c *Controller) {
		c.scanner = s
	}
}

// WithClock sets the clock used for re-scan waits and validation deadlines
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithLogger sets the controller logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithStatistics records decoder activity of every link into s
func WithStatistics(s *vedirect.Statistics) Option {
	return func(c *Controller) {
		c.stats = s
	}
}

// WithStateListener registers fn to be called on every state transition.
// fn runs on the controller goroutine and must not block.
func WithStateListener(fn StateListener) Option {
	return func(c *Controller) {
		c.listener = fn
	}
}

// New creates a controller. An invalid configuration is a setting invalid error.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg.withDefaults(),
		factory: serconnect.DefaultPortFactory,
		clock:   clockwork.NewRealClock(),
		logger:  log.Logger,
		stats:   vedirect.NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scanner == nil {
		c.scanner = serconnect.NewScanner(serconnect.WithScanLogger(c.logger))
	}
	c.logger = c.logger.With().Str("component", "controller").Logger()

	return c, nil
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Port returns the port being probed, validated or connected, empty when disconnected
func (c *Controller) Port() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port
}

// Statistics returns the decoder statistics
func (c *Controller) Statistics() *vedirect.Statistics {
	return c.stats
}

// Config returns the effective configuration
func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) setState(state State, port string) {
	c.mu.Lock()
	changed := c.state != state || c.port != port
	c.state = state
	c.port = port
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.Info().Str("state", state.String()).Str("port", port).Msg("state change")
	if c.listener != nil {
		c.listener(state, port)
	}
}

// session is an accepted link and the packets read while validating it
type session struct {
	link    *serconnect.Link
	reader  *vedirect.Reader
	pending []*vedirect.Packet
}

// Run connects to the device and delivers every packet to callback until ctx is
// done. It returns ctx.Err() on cancellation.
func (c *Controller) Run(ctx context.Context, callback Callback) error {
	if callback == nil {
		return vedirect.NewError(vedirect.KindSettingInvalid, "run", errors.New("nil callback"))
	}
	defer c.setState(StateDisconnected, "")

	for {
		if err := contextErr(ctx); err != nil {
			return err
		}

		s := c.discover(ctx)
		if s == nil {
			if err := contextErr(ctx); err != nil {
				return err
			}
			c.logger.Debug().Dur("interval", c.cfg.RescanInterval).Msg("no device found, waiting to re-scan")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(c.cfg.RescanInterval):
			}
			continue
		}

		err := c.serve(ctx, s, callback)
		if closeErr := s.link.Close(); closeErr != nil {
			c.logger.Debug().Err(closeErr).Msg("failed to close link")
		}
		if ctxErr := contextErr(ctx); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn().Err(err).Str("port", s.link.Path()).Msg("connection lost")
		c.setState(StateDisconnected, "")
	}
}

// candidates returns the preferred port followed by the scanned ports
func (c *Controller) candidates() []string {
	var ports []string
	if c.cfg.SerialPort != "" {
		ports = append(ports, c.cfg.SerialPort)
	}

	scanned, err := c.scanner.Scan()
	if err != nil {
		c.logger.Warn().Err(err).Msg("port scan failed")
	}
	for _, p := range scanned {
		if p != c.cfg.SerialPort {
			ports = append(ports, p)
		}
	}
	return ports
}

// discover probes every candidate and returns the first accepted session,
// or nil when none is accepted or ctx is done
func (c *Controller) discover(ctx context.Context) *session {
	for _, port := range c.candidates() {
		if contextErr(ctx) != nil {
			return nil
		}

		c.setState(StateProbing, port)
		link, err := serconnect.Open(port, c.cfg.Timeout, serconnect.WithPortFactory(c.factory))
		if err != nil {
			c.logger.Debug().Err(err).Str("port", port).Msg("probe failed")
			c.setState(StateDisconnected, "")
			continue
		}

		reader := vedirect.NewReader(link,
			vedirect.WithMaxPacketErrors(c.cfg.MaxPacketErrors),
			vedirect.WithStatistics(c.stats),
			vedirect.WithPacketErrorHandler(c.logPacketError),
		)
		pending, err := c.validate(ctx, link, reader)
		if err == nil {
			return &session{link: link, reader: reader, pending: pending}
		}

		c.logger.Debug().Err(err).Str("port", port).Msg("validation failed")
		if closeErr := link.Close(); closeErr != nil {
			c.logger.Debug().Err(closeErr).Str("port", port).Msg("failed to close link")
		}
		c.setState(StateDisconnected, "")
	}
	return nil
}

var (
	errRejected = errors.New("packets rejected by serial tests")
	errExpired  = errors.New("validation timed out")
)

// validate merges up to ValidationPackets packets and evaluates the rules on the
// merged snapshot after each one. The port stays in Probing until the first
// packet is decoded.
//
// The link is closed when the validation deadline passes, which also ends a read
// blocked on a silent port.
func (c *Controller) validate(ctx context.Context, link *serconnect.Link, reader *vedirect.Reader) ([]*vedirect.Packet, error) {
	port := link.Path()
	vctx, cancel := clockwork.WithTimeout(ctx, c.clock, c.cfg.ValidationTimeout)
	defer cancel()
	stop := context.AfterFunc(vctx, func() {
		if err := link.Close(); err != nil {
			c.logger.Debug().Err(err).Str("port", port).Msg("failed to close link")
		}
	})
	defer stop()

	snapshot := vedirect.NewPacket()
	packets := make([]*vedirect.Packet, 0, c.cfg.ValidationPackets)
	for range c.cfg.ValidationPackets {
		packet, err := reader.ReadPacket(vctx)
		if err != nil {
			return nil, err
		}
		c.setState(StateValidating, port)
		packets = append(packets, packet)
		snapshot.Merge(packet)
		if c.cfg.Rules.Evaluate(snapshot) {
			if !stop() {
				return nil, errExpired
			}
			return packets, nil
		}
	}

	failed := c.cfg.Rules.Failed(snapshot)
	c.logger.Debug().Strs("failed", failed).Int("blocks", snapshot.Len()).Msg("serial tests not passed")
	return nil, errRejected
}

// serve delivers packets until a fatal read error or ctx is done
func (c *Controller) serve(ctx context.Context, s *session, callback Callback) error {
	c.setState(StateConnected, s.link.Path())

	for _, packet := range s.pending {
		callback(packet)
	}

	for {
		packet, err := s.reader.ReadPacket(ctx)
		if err != nil {
			if vedirect.IsFatal(err) {
				return err
			}
			continue
		}
		callback(packet)
	}
}

func (c *Controller) logPacketError(err error) {
	c.logger.Debug().Err(err).Msg("packet error")
}

// contextErr returns ctx's error without blocking
func contextErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
