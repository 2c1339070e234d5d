package vedirect

import (
	"fmt"
	"strings"
)

// Encoder encodes VE.Direct text frames.
// Handles block framing and checksum calculation.
type Encoder struct {
	maxBlocks int
}

// NewEncoder creates a new VE.Direct frame encoder.
func NewEncoder() *Encoder {
	return &Encoder{maxBlocks: MaxPacketBlocks}
}

// Encode encodes a Packet to wire format.
func (e *Encoder) Encode(p *Packet) ([]byte, error) {
	return e.EncodeBlocks(p.Blocks())
}

// EncodeBlocks creates a complete wire-formatted frame from ordered blocks.
// Returns the frame bytes including the closing checksum block.
func (e *Encoder) EncodeBlocks(blocks []Block) ([]byte, error) {
	if len(blocks) > e.maxBlocks {
		return nil, fmt.Errorf("too many blocks: %d (max %d)", len(blocks), e.maxBlocks)
	}

	seen := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		if err := validateBlock(b); err != nil {
			return nil, err
		}
		if _, dup := seen[b.Key]; dup {
			return nil, fmt.Errorf("duplicate key %q", b.Key)
		}
		seen[b.Key] = struct{}{}
	}

	return appendFrame(nil, blocks), nil
}

// EncodeBlocks encodes blocks with the default encoder.
func EncodeBlocks(blocks []Block) ([]byte, error) {
	return NewEncoder().EncodeBlocks(blocks)
}

// EncodePacket encodes an existing Packet back to wire format.
func EncodePacket(p *Packet) ([]byte, error) {
	return NewEncoder().Encode(p)
}

// ChecksumOf returns the checksum byte that brings the sum of data to zero.
func ChecksumOf(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

// appendFrame writes blocks and the checksum block without validation.
func appendFrame(dst []byte, blocks []Block) []byte {
	start := len(dst)
	for _, b := range blocks {
		dst = append(dst, HeaderCR, HeaderLF)
		dst = append(dst, b.Key...)
		dst = append(dst, Delimiter)
		dst = append(dst, b.Value...)
	}
	dst = append(dst, HeaderCR, HeaderLF)
	dst = append(dst, ChecksumKey...)
	dst = append(dst, Delimiter)
	return append(dst, ChecksumOf(dst[start:]))
}

// validateBlock rejects blocks the decoder could not read back.
func validateBlock(b Block) error {
	switch {
	case b.Key == "":
		return fmt.Errorf("empty key")
	case b.Key == ChecksumKey:
		return fmt.Errorf("key %q is reserved", ChecksumKey)
	case len(b.Key) > MaxKeySize:
		return fmt.Errorf("key %q exceeds %d bytes", b.Key, MaxKeySize)
	case len(b.Value) > MaxValueSize:
		return fmt.Errorf("value of %q exceeds %d bytes", b.Key, MaxValueSize)
	case strings.ContainsAny(b.Key, "\r\n\t"):
		return fmt.Errorf("key %q contains a framing byte", b.Key)
	case strings.ContainsAny(b.Value, "\r\n"):
		return fmt.Errorf("value of %q contains a framing byte", b.Key)
	}
	return nil
}
