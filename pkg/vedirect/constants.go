// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vedirect provides a Go implementation of the Victron VE.Direct text protocol.
//
// VE.Direct devices (battery monitors, solar charge controllers) emit a continuous
// stream of key/value blocks. Each block is sent as "\r\n<key>\t<value>" and a packet
// closes with a "Checksum" block whose single value byte brings the modulo 256 sum of
// the whole frame to zero. HEX protocol messages (":...\n") may be interleaved in the
// same stream and are skipped.
//
// This package provides the byte-wise frame decoder, an encoder, a reader that runs the
// decoder over any io.ByteReader, statistics and formatting helpers.
package vedirect

// Protocol framing bytes
const (
	HeaderCR  = '\r'
	HeaderLF  = '\n'
	Delimiter = '\t'
	HexMarker = ':'
)

// ChecksumKey is the reserved key of the block closing every packet
const ChecksumKey = "Checksum"

// Protocol limits
const (
	MaxPacketBlocks = 18  // device protocol limit of blocks per packet
	MaxKeySize      = 32  // VE recommended buffer size is 9
	MaxValueSize    = 128 // VE recommended buffer size is 33
)

// Serial line settings, fixed by the protocol
const (
	BaudRate = 19200
	DataBits = 8
)

// State is the frame decoder state
type State int

// Decoder states
const (
	StateWaitHeader State = iota
	StateInKey
	StateInValue
	StateInChecksum
	StateInHex
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateWaitHeader:
		return "WAIT_HEADER"
	case StateInKey:
		return "IN_KEY"
	case StateInValue:
		return "IN_VALUE"
	case StateInChecksum:
		return "IN_CHECKSUM"
	case StateInHex:
		return "IN_HEX"
	default:
		return "UNKNOWN"
	}
}
