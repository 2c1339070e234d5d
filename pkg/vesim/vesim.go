// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vesim replays recorded VE.Direct device dumps as text protocol frames.
package vesim

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

//go:embed dumps/*.dump
var dumps embed.FS

const dumpExt = ".dump"

// DefaultInterval is the delay between two frames
const DefaultInterval = time.Second

// ErrUnknownDevice is returned by New for a device without an embedded dump
var ErrUnknownDevice = errors.New("unknown device")

// Devices returns the names of the embedded device dumps
func Devices() []string {
	entries, err := dumps.ReadDir("dumps")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), dumpExt))
	}
	slices.Sort(names)
	return names
}

// Simulator replays the packets of one device dump
type Simulator struct {
	name     string
	packets  []*vedirect.Packet
	interval time.Duration
	loops    int
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// Option configures a Simulator
type Option func(*Simulator)

// WithInterval sets the delay between frames
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithLoops limits Run to n passes over the dump. Zero loops forever.
func WithLoops(n int) Option {
	return func(s *Simulator) {
		if n >= 0 {
			s.loops = n
		}
	}
}

// WithClock sets the clock used between frames
func WithClock(clock clockwork.Clock) Option {
	return func(s *Simulator) {
		s.clock = clock
	}
}

// WithLogger sets the simulator logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// New creates a simulator for an embedded device dump
func New(device string, opts ...Option) (*Simulator, error) {
	f, err := dumps.Open(path.Join("dumps", device+dumpExt))
	if err != nil {
		return nil, fmt.Errorf("%w %q, valid devices: %s", ErrUnknownDevice, device, strings.Join(Devices(), ", "))
	}
	defer f.Close()
	return Parse(device, f, opts...)
}

// Load creates a simulator from a dump file
func Load(fs afero.Fs, file string, opts ...Option) (*Simulator, error) {
	f, err := fs.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()
	return Parse(strings.TrimSuffix(path.Base(file), dumpExt), f, opts...)
}

// Parse reads a dump: one "key<TAB>value" line per block, a Checksum line ends a
// packet. Malformed lines are skipped and packets longer than the protocol
// allows are split.
func Parse(name string, r io.Reader, opts ...Option) (*Simulator, error) {
	s := &Simulator{
		name:     name,
		interval: DefaultInterval,
		clock:    clockwork.NewRealClock(),
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	current := vedirect.NewPacket()
	flush := func() {
		if current.Len() > 0 {
			s.packets = append(s.packets, current)
			current = vedirect.NewPacket()
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		key, value, ok := strings.Cut(line, "\t")
		if !ok || key == "" || strings.Contains(value, "\t") {
			continue
		}
		if key == vedirect.ChecksumKey {
			flush()
			continue
		}
		if !current.Has(key) && current.Len() >= vedirect.MaxPacketBlocks {
			flush()
		}
		current.Set(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dump %s: %w", name, err)
	}
	flush()

	if len(s.packets) == 0 {
		return nil, fmt.Errorf("dump %s holds no packets", name)
	}
	return s, nil
}

// Name returns the device name
func (s *Simulator) Name() string {
	return s.name
}

// Packets returns copies of the dump packets
func (s *Simulator) Packets() []*vedirect.Packet {
	packets := make([]*vedirect.Packet, len(s.packets))
	for i, p := range s.packets {
		packets[i] = p.Clone()
	}
	return packets
}

// Frames returns the encoded frame of every packet
func (s *Simulator) Frames() ([][]byte, error) {
	frames := make([][]byte, 0, len(s.packets))
	for i, p := range s.packets {
		frame, err := vedirect.EncodePacket(p)
		if err != nil {
			return nil, fmt.Errorf("packet %d of %s: %w", i, s.name, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Stream returns all frames back to back
func (s *Simulator) Stream() ([]byte, error) {
	frames, err := s.Frames()
	if err != nil {
		return nil, err
	}
	return slices.Concat(frames...), nil
}

// Run writes the frames to w, waiting the interval after each one, until ctx is
// done or the loop limit is reached. It returns the number of frames written.
func (s *Simulator) Run(ctx context.Context, w io.Writer) (int, error) {
	frames, err := s.Frames()
	if err != nil {
		return 0, err
	}

	written := 0
	for loop := 0; s.loops == 0 || loop < s.loops; loop++ {
		for _, frame := range frames {
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			default:
			}

			if _, err := w.Write(frame); err != nil {
				return written, fmt.Errorf("failed to write frame: %w", err)
			}
			written++
			s.logger.Debug().Str("device", s.name).Int("frame", written).Int("bytes", len(frame)).Msg("frame sent")

			if s.interval > 0 {
				select {
				case <-ctx.Done():
					return written, ctx.Err()
				case <-s.clock.After(s.interval):
				}
			}
		}
		s.logger.Info().Str("device", s.name).Int("loop", loop+1).Int("frames", written).Msg("dump replayed")
	}
	return written, nil
}
