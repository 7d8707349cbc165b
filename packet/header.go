package packet

import (
	"encoding/binary"
	"fmt"
)

// Header is the decoded primary header of a frame.
type Header struct {
	Version         uint8
	Type            uint8
	SecondaryHeader bool
	APID            uint16
	SequenceFlags   uint8
	SequenceCount   uint16
	PacketLength    uint16 // payload length minus one
}

// PayloadSize returns the number of payload bytes that follow the header.
func (h Header) PayloadSize() int {
	return int(h.PacketLength) + 1
}

// FrameSize returns the size of the whole frame, sync marker included.
func (h Header) FrameSize() int {
	return PrefixSize + h.PayloadSize()
}

// EncodeHeader packs h into its 6 byte wire form.
func EncodeHeader(h Header) ([HeaderSize]byte, error) {
	var out [HeaderSize]byte

	switch {
	case h.Version > MaxVersion:
		return out, fmt.Errorf("version %d: %w", h.Version, ErrFieldRange)
	case h.Type > 1:
		return out, fmt.Errorf("type %d: %w", h.Type, ErrFieldRange)
	case h.APID > MaxAPID:
		return out, fmt.Errorf("apid %d: %w", h.APID, ErrFieldRange)
	case h.SequenceFlags > MaxSequenceFlags:
		return out, fmt.Errorf("sequence flags %d: %w", h.SequenceFlags, ErrFieldRange)
	case h.SequenceCount > MaxSequenceCount:
		return out, fmt.Errorf("sequence count %d: %w", h.SequenceCount, ErrFieldRange)
	}

	id := uint16(h.Version)<<13 | uint16(h.Type)<<12 | h.APID
	if h.SecondaryHeader {
		id |= 1 << 11
	}
	seq := uint16(h.SequenceFlags)<<14 | h.SequenceCount

	binary.BigEndian.PutUint16(out[0:2], id)
	binary.BigEndian.PutUint16(out[2:4], seq)
	binary.BigEndian.PutUint16(out[4:6], h.PacketLength)
	return out, nil
}

// DecodeHeader unpacks the first HeaderSize bytes of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, got %d: %w", HeaderSize, len(data), ErrMalformedFrame)
	}

	id := binary.BigEndian.Uint16(data[0:2])
	seq := binary.BigEndian.Uint16(data[2:4])

	return Header{
		Version:         uint8(id >> 13),
		Type:            uint8(id>>12) & 0x01,
		SecondaryHeader: id&(1<<11) != 0,
		APID:            id & MaxAPID,
		SequenceFlags:   uint8(seq >> 14),
		SequenceCount:   seq & MaxSequenceCount,
		PacketLength:    binary.BigEndian.Uint16(data[4:6]),
	}, nil
}
