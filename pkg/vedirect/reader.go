// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrStopStream can be returned by a PacketFunc to end Reader.Stream without error
var ErrStopStream = errors.New("stop stream")

// PacketFunc receives packets from Reader.Stream
type PacketFunc func(*Packet) error

// Reader runs a Decoder over a byte source and hands out complete packets
type Reader struct {
	src             io.ByteReader
	decoder         *Decoder
	stats           *Statistics
	maxPacketErrors int
	maxLoops        int
	consecutive     int
	onPacketError   func(error)
}

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// WithMaxPacketErrors sets how many consecutive packet read errors are tolerated
// before ReadPacket gives up. Zero means unlimited.
func WithMaxPacketErrors(n int) ReaderOption {
	return func(r *Reader) {
		if n >= 0 {
			r.maxPacketErrors = n
		}
	}
}

// WithMaxLoops limits the number of packets delivered by Stream. Zero means unlimited.
func WithMaxLoops(n int) ReaderOption {
	return func(r *Reader) {
		if n >= 0 {
			r.maxLoops = n
		}
	}
}

// WithStatistics records reader activity into s
func WithStatistics(s *Statistics) ReaderOption {
	return func(r *Reader) {
		if s != nil {
			r.stats = s
		}
	}
}

// WithPacketErrorHandler registers fn to be called with every recoverable packet error
func WithPacketErrorHandler(fn func(error)) ReaderOption {
	return func(r *Reader) {
		r.onPacketError = fn
	}
}

// WithDecoderOptions configures the reader's decoder
func WithDecoderOptions(opts ...DecoderOption) ReaderOption {
	return func(r *Reader) {
		r.decoder = NewDecoder(opts...)
	}
}

// NewReader creates a reader decoding bytes from src
func NewReader(src io.ByteReader, opts ...ReaderOption) *Reader {
	r := &Reader{
		src:     src,
		decoder: NewDecoder(),
		stats:   NewStatistics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Statistics returns the reader statistics
func (r *Reader) Statistics() *Statistics {
	return r.stats
}

// Reset discards any partially decoded packet
func (r *Reader) Reset() {
	r.decoder.Reset()
	r.consecutive = 0
}

// ReadPacket blocks until a complete, checksum-valid packet is decoded.
//
// Packet read errors are counted and skipped unless more than the configured
// maximum occur in a row. Read errors from the source are returned as input read
// or read timeout errors. The context is checked between bytes; an expired deadline
// is reported as a read timeout.
func (r *Reader) ReadPacket(ctx context.Context) (*Packet, error) {
	for {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				timeoutErr := NewError(KindReadTimeout, "read", err)
				r.stats.Update(nil, timeoutErr)
				return nil, timeoutErr
			}
			return nil, err
		default:
		}

		b, err := r.src.ReadByte()
		if err != nil {
			err = asReadError(err)
			r.stats.Update(nil, err)
			return nil, err
		}
		r.stats.AddBytes(1)

		packet, err := r.decoder.DecodeByte(b)
		if err != nil {
			r.stats.Update(nil, err)
			if r.onPacketError != nil {
				r.onPacketError(err)
			}
			r.consecutive++
			if r.maxPacketErrors > 0 && r.consecutive > r.maxPacketErrors {
				n := r.consecutive
				r.consecutive = 0
				return nil, NewError(KindPacketRead, "read",
					fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyPacketErrors, n, err))
			}
			continue
		}
		if packet != nil {
			r.consecutive = 0
			r.stats.Update(packet, nil)
			return packet, nil
		}
	}
}

// Stream reads packets and passes each one to fn until ctx is done, a read fails,
// fn returns an error or the loop limit is reached.
func (r *Reader) Stream(ctx context.Context, fn PacketFunc) error {
	loops := 0
	for {
		packet, err := r.ReadPacket(ctx)
		if err != nil {
			return err
		}
		if err := fn(packet); err != nil {
			if errors.Is(err, ErrStopStream) {
				return nil
			}
			return err
		}
		loops++
		if r.maxLoops > 0 && loops >= r.maxLoops {
			return nil
		}
	}
}

// asReadError maps a source error onto the read taxonomy
func asReadError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(KindInputRead, "read", err)
}
