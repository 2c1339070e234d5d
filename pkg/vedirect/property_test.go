// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// blocksGen generates 1-18 blocks with distinct keys and printable values
func blocksGen() *rapid.Generator[[]Block] {
	return rapid.Custom(func(t *rapid.T) []Block {
		keys := rapid.SliceOfNDistinct(
			rapid.StringMatching(`[A-Z][A-Z0-9#]{0,7}`),
			1, MaxPacketBlocks,
			rapid.ID[string],
		).Filter(func(keys []string) bool {
			for _, k := range keys {
				if k == ChecksumKey {
					return false
				}
			}
			return true
		}).Draw(t, "keys")

		blocks := make([]Block, len(keys))
		for i, k := range keys {
			blocks[i] = Block{Key: k, Value: rapid.StringMatching(`[ -~]{0,32}`).
				Filter(func(v string) bool { return len(v) <= MaxValueSize }).
				Draw(t, "value")}
		}
		return blocks
	})
}

// TestPropertyRoundTrip verifies that any encodable packet decodes to itself
func TestPropertyRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		blocks := blocksGen().Draw(t, "blocks")

		frame, err := EncodeBlocks(blocks)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		packets, errs := decodeAll(NewDecoder(), frame)
		if len(errs) != 0 {
			t.Fatalf("decode errors: %v", errs)
		}
		if len(packets) != 1 {
			t.Fatalf("expected 1 packet, got %d", len(packets))
		}
		if !packets[0].Equal(NewPacketFromBlocks(blocks...)) {
			t.Fatalf("mismatch: %v != %v", packets[0].Blocks(), blocks)
		}
	})
}

// TestPropertyFrameSum verifies every encoded frame sums to zero modulo 256
func TestPropertyFrameSum(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		frame, err := EncodeBlocks(blocksGen().Draw(t, "blocks"))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var sum byte
		for _, b := range frame {
			sum += b
		}
		if sum != 0 {
			t.Fatalf("frame sum 0x%02X", sum)
		}
	})
}

// TestPropertySingleByteCorruption verifies that changing one key or value byte
// always fails the checksum and never emits a packet
func TestPropertySingleByteCorruption(t *testing.T) {
	t.Parallel()

	const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	rapid.Check(t, func(t *rapid.T) {
		blocks := blocksGen().Draw(t, "blocks")
		frame, err := EncodeBlocks(blocks)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		// Offsets of key and value bytes
		var content []int
		offset := 0
		for _, b := range blocks {
			offset += 2 // CR LF
			for i := range len(b.Key) {
				content = append(content, offset+i)
			}
			offset += len(b.Key) + 1
			for i := range len(b.Value) {
				content = append(content, offset+i)
			}
			offset += len(b.Value)
		}

		idx := rapid.SampledFrom(content).Draw(t, "index")
		replacement := rapid.SampledFrom([]byte(alnum)).
			Filter(func(c byte) bool { return c != frame[idx] }).
			Draw(t, "replacement")
		frame[idx] = replacement

		packets, errs := decodeAll(NewDecoder(), frame)
		if len(packets) != 0 {
			t.Fatalf("corrupted frame emitted a packet: %v", packets[0].Blocks())
		}
		if len(errs) != 1 || !errors.Is(errs[0], ErrPacketRead) {
			t.Fatalf("expected one packet read error, got %v", errs)
		}
	})
}

// TestPropertyNoiseThenFrame verifies the decoder recovers after arbitrary noise
// once a reset is issued
func TestPropertyNoiseThenFrame(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		noise := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "noise")
		blocks := blocksGen().Draw(t, "blocks")
		frame, err := EncodeBlocks(blocks)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		d := NewDecoder()
		for _, b := range noise {
			d.DecodeByte(b)
		}
		d.Reset()

		packets, errs := decodeAll(d, frame)
		if len(errs) != 0 || len(packets) != 1 {
			t.Fatalf("expected a clean decode, got %d packets and errors %v", len(packets), errs)
		}
	})
}
