// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"fmt"
	"time"
)

// Decoder implements the VE.Direct text frame decoder state machine
type Decoder struct {
	state     State
	key       []byte
	value     []byte
	sum       byte // running frame sum, wraps modulo 256
	packet    *Packet
	maxBlocks int
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithMaxBlocks sets the maximum number of blocks accepted in one packet
func WithMaxBlocks(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxBlocks = n
		}
	}
}

// NewDecoder creates a new protocol decoder
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		key:       make([]byte, 0, MaxKeySize),
		value:     make([]byte, 0, MaxValueSize),
		maxBlocks: MaxPacketBlocks,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Reset()
	return d
}

// Reset discards the packet in progress and returns to WaitHeader
func (d *Decoder) Reset() {
	d.state = StateWaitHeader
	d.key = d.key[:0]
	d.value = d.value[:0]
	d.sum = 0
	d.packet = nil
}

// State returns the current decoder state
func (d *Decoder) State() State {
	return d.state
}

// DecodeByte processes a single byte through the decoder state machine
// Returns a completed packet, or nil if the packet is incomplete
// Returns a packet read error if the frame is malformed; the decoder is then reset
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	// HEX messages are skipped and never counted in the checksum
	if d.state == StateInHex {
		if b == HeaderLF {
			d.state = StateWaitHeader
		}
		return nil, nil
	}
	if d.state == StateWaitHeader && b == HexMarker {
		d.state = StateInHex
		return nil, nil
	}

	d.sum += b

	switch d.state {
	case StateWaitHeader:
		if b == HeaderLF {
			d.state = StateInKey
		}
		return nil, nil

	case StateInKey:
		switch b {
		case Delimiter:
			if len(d.key) == 0 {
				return nil, d.fail(fmt.Errorf("%w before delimiter", ErrEmptyKey))
			}
			if string(d.key) == ChecksumKey {
				d.state = StateInChecksum
			} else {
				d.state = StateInValue
			}
		case HeaderCR, HeaderLF:
			return nil, d.fail(fmt.Errorf("%w in key", ErrUnexpectedHeader))
		default:
			if len(d.key) >= MaxKeySize {
				return nil, d.fail(fmt.Errorf("%w: key exceeds %d bytes", ErrBlockTooLong, MaxKeySize))
			}
			d.key = append(d.key, b)
		}
		return nil, nil

	case StateInValue:
		switch b {
		case HeaderCR:
			if err := d.addBlock(); err != nil {
				return nil, err
			}
			d.state = StateWaitHeader
		case HeaderLF:
			return nil, d.fail(fmt.Errorf("%w in value", ErrUnexpectedHeader))
		default:
			if len(d.value) >= MaxValueSize {
				return nil, d.fail(fmt.Errorf("%w: value exceeds %d bytes", ErrBlockTooLong, MaxValueSize))
			}
			d.value = append(d.value, b)
		}
		return nil, nil

	case StateInChecksum:
		if d.sum != 0 {
			return nil, d.fail(fmt.Errorf("%w: frame sum 0x%02X", ErrInvalidChecksum, d.sum))
		}
		packet := d.current()
		packet.checksum = b
		packet.timestamp = time.Now()
		d.Reset()
		return packet, nil

	default:
		err := fmt.Errorf("invalid state: %d", d.state)
		d.Reset()
		return nil, NewError(KindPacketRead, "decode", err)
	}
}

// current returns the packet in progress, creating it on first use
func (d *Decoder) current() *Packet {
	if d.packet == nil {
		d.packet = NewPacket()
	}
	return d.packet
}

// addBlock moves the pending key/value pair into the packet in progress
func (d *Decoder) addBlock() error {
	packet := d.current()
	key := string(d.key)
	if !packet.Has(key) && packet.Len() >= d.maxBlocks {
		return d.fail(fmt.Errorf("%w: more than %d blocks", ErrMaxBlocks, d.maxBlocks))
	}
	packet.Set(key, string(d.value))
	d.key = d.key[:0]
	d.value = d.value[:0]
	return nil
}

// fail resets the decoder and wraps cause as a packet read error
func (d *Decoder) fail(cause error) error {
	d.Reset()
	return NewError(KindPacketRead, "decode", cause)
}
