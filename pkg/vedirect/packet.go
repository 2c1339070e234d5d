// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"maps"
	"slices"
	"time"
)

// Block is a single key/value pair of a packet
type Block struct {
	Key   string
	Value string
}

// Packet represents a decoded VE.Direct packet: the ordered blocks of one frame
type Packet struct {
	keys      []string
	values    map[string]string
	checksum  byte
	timestamp time.Time
}

// NewPacket creates an empty packet
func NewPacket() *Packet {
	return &Packet{
		keys:      make([]string, 0, MaxPacketBlocks),
		values:    make(map[string]string, MaxPacketBlocks),
		timestamp: time.Now(),
	}
}

// NewPacketFromBlocks creates a packet holding the given blocks in order.
// A repeated key keeps its first position and takes the last value.
func NewPacketFromBlocks(blocks ...Block) *Packet {
	p := NewPacket()
	for _, b := range blocks {
		p.Set(b.Key, b.Value)
	}
	return p
}

// Set stores a value. New keys are appended, existing keys keep their position.
func (p *Packet) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored for key
func (p *Packet) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present
func (p *Packet) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Len returns the number of blocks
func (p *Packet) Len() int {
	return len(p.keys)
}

// Keys returns the keys in wire order
func (p *Packet) Keys() []string {
	return slices.Clone(p.keys)
}

// Blocks returns the blocks in wire order
func (p *Packet) Blocks() []Block {
	blocks := make([]Block, 0, len(p.keys))
	for _, k := range p.keys {
		blocks = append(blocks, Block{Key: k, Value: p.values[k]})
	}
	return blocks
}

// Map returns a copy of the key/value pairs
func (p *Packet) Map() map[string]string {
	return maps.Clone(p.values)
}

// Checksum returns the checksum byte received with the packet
func (p *Packet) Checksum() byte {
	return p.checksum
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Clone returns a deep copy of the packet
func (p *Packet) Clone() *Packet {
	return &Packet{
		keys:      slices.Clone(p.keys),
		values:    maps.Clone(p.values),
		checksum:  p.checksum,
		timestamp: p.timestamp,
	}
}

// Merge copies other's blocks into p. Keys already in p are overwritten in place.
func (p *Packet) Merge(other *Packet) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
	if other.timestamp.After(p.timestamp) {
		p.timestamp = other.timestamp
	}
}

// Equal reports whether both packets hold the same blocks in the same order
func (p *Packet) Equal(other *Packet) bool {
	if p == nil || other == nil {
		return p == other
	}
	return slices.Equal(p.keys, other.keys) && maps.Equal(p.values, other.values)
}
