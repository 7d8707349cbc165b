// Package packet implements the framing used on the host side of the bridge.
//
// Frame layout:
//
//	+-------------+-----------------+---------------------------+
//	| Sync marker | Primary header  | Payload                   |
//	+-------------+-----------------+---------------------------+
//	| 4 bytes     | 6 bytes         | packet_length + 1 bytes   |
//	+-------------+-----------------+---------------------------+
//
// The primary header is bit packed, most significant bit first:
//
//	version(3) | type(1) | sec_hdr(1) | apid(11)
//	seq_flags(2) | seq_count(14)
//	packet_length(16)
//
// packet_length holds the payload size minus one, so a frame always carries at
// least one payload byte.
package packet

import "errors"

const (
	// SyncSize is the length of the sync marker preceding every header.
	SyncSize = 4
	// HeaderSize is the length of the primary header.
	HeaderSize = 6
	// PrefixSize is everything before the payload.
	PrefixSize = SyncSize + HeaderSize

	// MaxPayloadSize is the largest payload packet_length can describe.
	MaxPayloadSize = 0xFFFF + 1

	// Field limits
	MaxVersion       = 0x07
	MaxAPID          = 0x07FF
	MaxSequenceFlags = 0x03
	MaxSequenceCount = 0x3FFF

	// AdminTokenSize is the size of the token carried by a mode change.
	AdminTokenSize = 8
	// ModeChangeSize is the exact payload size of a mode change command.
	ModeChangeSize = AdminTokenSize + 1
)

// SyncMarker locates the start of a frame in the host byte stream.
var SyncMarker = [SyncSize]byte{0x1A, 0xCF, 0xFC, 0x1D}

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrFieldRange     = errors.New("header field out of range")
	ErrEmptyPayload   = errors.New("payload must hold at least one byte")
	ErrPayloadSize    = errors.New("payload too large")
)
