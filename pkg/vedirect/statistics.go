// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Counters is a point-in-time copy of the statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	Bytes           uint64
	Packets         uint64
	PacketErrors    uint64 // all packet read errors
	ChecksumErrors  uint64
	FramingErrors   uint64 // unexpected header, empty key, oversized block
	MaxBlocksErrors uint64
	InputErrors     uint64
	TimeoutErrors   uint64

	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// Errors returns the total number of errors
func (c Counters) Errors() uint64 {
	return c.PacketErrors + c.InputErrors + c.TimeoutErrors
}

// Statistics tracks decoded packets and error rates. Safe for concurrent use.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{c: Counters{StartTime: now, LastUpdateTime: now}}
}

// AddBytes counts bytes read from the link
func (s *Statistics) AddBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Bytes += uint64(n)
}

// Update records a decoded packet or a read error
func (s *Statistics) Update(packet *Packet, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.LastUpdateTime = time.Now()

	if err == nil {
		if packet != nil {
			s.c.Packets++
		}
		return
	}

	switch KindOf(err) {
	case KindPacketRead:
		s.c.PacketErrors++
		switch {
		case errors.Is(err, ErrInvalidChecksum):
			s.c.ChecksumErrors++
		case errors.Is(err, ErrMaxBlocks):
			s.c.MaxBlocksErrors++
		default:
			s.c.FramingErrors++
		}
	case KindReadTimeout:
		s.c.TimeoutErrors++
	default:
		s.c.InputErrors++
	}
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.c.StartTime).Seconds()
	if elapsed > 0 {
		s.c.PacketRate = float64(s.c.Packets) / elapsed
		s.c.ErrorRate = float64(s.c.Errors()) / elapsed
	}
}

// Snapshot returns a copy of the counters with fresh rates
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return s.c
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	c := s.Snapshot()

	var validPercent, errorPercent float64
	if total := c.Packets + c.PacketErrors; total > 0 {
		validPercent = float64(c.Packets) * 100.0 / float64(total)
		errorPercent = float64(c.PacketErrors) * 100.0 / float64(total)
	}

	elapsed := time.Since(c.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes Read:      %8d\n", c.Bytes)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", c.Packets, validPercent)

	if c.PacketErrors > 0 {
		result += fmt.Sprintf("Packet Errors:   %8d (%.1f%%)\n", c.PacketErrors, errorPercent)
		if c.ChecksumErrors > 0 {
			result += fmt.Sprintf("  Checksum:         %5d\n", c.ChecksumErrors)
		}
		if c.FramingErrors > 0 {
			result += fmt.Sprintf("  Framing:          %5d\n", c.FramingErrors)
		}
		if c.MaxBlocksErrors > 0 {
			result += fmt.Sprintf("  Max Blocks:       %5d\n", c.MaxBlocksErrors)
		}
	}
	if c.InputErrors > 0 {
		result += fmt.Sprintf("Input Errors:    %8d\n", c.InputErrors)
	}
	if c.TimeoutErrors > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", c.TimeoutErrors)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", c.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", c.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
}
