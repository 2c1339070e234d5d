// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"errors"
	"strings"
)

// Kind classifies a VE.Direct failure
type Kind int

// Error kinds
const (
	KindUnknown Kind = iota
	KindSettingInvalid
	KindInputRead
	KindPacketRead
	KindReadTimeout
	KindSerialConf
	KindSerialDevice
	KindOpenSerial
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindSettingInvalid:
		return "invalid setting"
	case KindInputRead:
		return "input read error"
	case KindPacketRead:
		return "packet read error"
	case KindReadTimeout:
		return "read timeout"
	case KindSerialConf:
		return "serial configuration error"
	case KindSerialDevice:
		return "serial device error"
	case KindOpenSerial:
		return "open serial error"
	default:
		return "vedirect error"
	}
}

// IsRead reports whether the kind belongs to the read error family
func (k Kind) IsRead() bool {
	return k == KindInputRead || k == KindPacketRead || k == KindReadTimeout
}

// IsSerialConnection reports whether the kind belongs to the serial connection family
func (k Kind) IsSerialConnection() bool {
	return k == KindSerialConf || k == KindSerialDevice || k == KindOpenSerial
}

// Family sentinels. Every *Error matches ErrVedirect.
var (
	ErrVedirect         = errors.New("vedirect error")
	ErrRead             = errors.New("read error")
	ErrSerialConnection = errors.New("serial connection error")
)

// Kind sentinels, matched with errors.Is
var (
	ErrSettingInvalid = errors.New("invalid setting")
	ErrInputRead      = errors.New("input read error")
	ErrPacketRead     = errors.New("packet read error")
	ErrReadTimeout    = errors.New("read timeout")
	ErrSerialConf     = errors.New("serial configuration error")
	ErrSerialDevice   = errors.New("serial device error")
	ErrOpenSerial     = errors.New("open serial error")
)

// Packet read causes
var (
	ErrInvalidChecksum     = errors.New("invalid checksum")
	ErrUnexpectedHeader    = errors.New("unexpected header")
	ErrMaxBlocks           = errors.New("max blocks exceeded")
	ErrBlockTooLong        = errors.New("block too long")
	ErrEmptyKey            = errors.New("empty key")
	ErrTooManyPacketErrors = errors.New("too many packet errors")
)

var kindSentinels = map[Kind]error{
	KindSettingInvalid: ErrSettingInvalid,
	KindInputRead:      ErrInputRead,
	KindPacketRead:     ErrPacketRead,
	KindReadTimeout:    ErrReadTimeout,
	KindSerialConf:     ErrSerialConf,
	KindSerialDevice:   ErrSerialDevice,
	KindOpenSerial:     ErrOpenSerial,
}

// Error is the single error type raised by the decoder, the serial link and the
// controller. Kind selects the taxonomy entry; Op and Port give context.
type Error struct {
	Kind Kind
	Op   string
	Port string
	Err  error
}

// NewError creates an error of the given kind wrapping err
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		if e.Port != "" {
			b.WriteString(" ")
			b.WriteString(e.Port)
		}
		b.WriteString(")")
	} else if e.Port != "" {
		b.WriteString(" (")
		b.WriteString(e.Port)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel and the family sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrVedirect:
		return true
	case ErrRead:
		return e.Kind.IsRead()
	case ErrSerialConnection:
		return e.Kind.IsSerialConnection()
	}
	if s, ok := kindSentinels[e.Kind]; ok {
		return s == target
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err ends the current connection attempt.
// Packet read errors are recoverable unless they carry ErrTooManyPacketErrors.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindPacketRead {
		return errors.Is(err, ErrTooManyPacketErrors)
	}
	return true
}
