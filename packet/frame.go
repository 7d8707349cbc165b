package packet

import "fmt"

// Frame is a complete frame as read from the host stream.
type Frame struct {
	Raw    []byte // sync marker, header and payload
	Header Header
}

// Payload returns the payload part of Raw.
func (f Frame) Payload() []byte {
	if len(f.Raw) < PrefixSize {
		return nil
	}
	return f.Raw[PrefixSize:]
}

// EncodeFrame builds a frame around payload. The PacketLength of h is
// ignored and derived from the payload size.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadSize)
	}
	h.PacketLength = uint16(len(payload) - 1)

	hdr, err := EncodeHeader(h)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, h.FrameSize())
	data = append(data, SyncMarker[:]...)
	data = append(data, hdr[:]...)
	data = append(data, payload...)
	return data, nil
}
