// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// cborPacket is the CBOR layout of a packet: a map with integer keys holding the
// decode time (unix milliseconds), the checksum byte and the blocks as [key, value]
// pairs in wire order.
type cborPacket struct {
	Timestamp int64       `cbor:"1,keyasint"`
	Checksum  uint8       `cbor:"2,keyasint"`
	Blocks    [][2]string `cbor:"3,keyasint"`
}

// MarshalCBOR encodes the packet to CBOR
func (p *Packet) MarshalCBOR() ([]byte, error) {
	msg := cborPacket{
		Timestamp: p.timestamp.UnixMilli(),
		Checksum:  p.checksum,
		Blocks:    make([][2]string, 0, len(p.keys)),
	}
	for _, k := range p.keys {
		msg.Blocks = append(msg.Blocks, [2]string{k, p.values[k]})
	}

	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR packet: %w", err)
	}
	return data, nil
}

// UnmarshalCBOR decodes a packet encoded by MarshalCBOR
func (p *Packet) UnmarshalCBOR(data []byte) error {
	var msg cborPacket
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode CBOR packet: %w", err)
	}

	decoded := NewPacket()
	for _, b := range msg.Blocks {
		decoded.Set(b[0], b[1])
	}
	decoded.checksum = msg.Checksum
	decoded.timestamp = time.UnixMilli(msg.Timestamp)

	*p = *decoded
	return nil
}
