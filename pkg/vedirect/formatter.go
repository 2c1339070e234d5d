// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] PACKET blocks=%d checksum=0x%02X\n", timestamp, p.Len(), p.checksum)

	width := 0
	for _, k := range p.keys {
		width = max(width, len(k))
	}
	for _, k := range p.keys {
		fmt.Fprintf(&b, "  %-*s  %s\n", width, k, p.values[k])
	}

	return b.String()
}

// FormatPacketLine formats a packet on a single line, blocks in wire order
func FormatPacketLine(p *Packet) string {
	parts := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		parts = append(parts, k+"="+p.values[k])
	}
	return fmt.Sprintf("[%s] %s", p.timestamp.Format("15:04:05.000"), strings.Join(parts, " "))
}

// MarshalJSON encodes the packet as a JSON object whose members follow wire order
func (p *Packet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FormatPacketJSON returns the packet as a single JSON line
func FormatPacketJSON(p *Packet) (string, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode packet: %w", err)
	}
	return string(data) + "\n", nil
}
