package packet

import "fmt"

// ModeChange is the payload of a frame sent to the mode change apid.
type ModeChange struct {
	AdminToken [AdminTokenSize]byte
	Mode       byte
}

// ParseModeChange decodes a mode change payload. The payload must be exactly
// ModeChangeSize bytes.
func ParseModeChange(payload []byte) (ModeChange, error) {
	if len(payload) != ModeChangeSize {
		return ModeChange{}, fmt.Errorf("mode change needs %d bytes, got %d: %w", ModeChangeSize, len(payload), ErrMalformedFrame)
	}
	var mc ModeChange
	copy(mc.AdminToken[:], payload[:AdminTokenSize])
	mc.Mode = payload[AdminTokenSize]
	return mc, nil
}

// Bytes returns the wire form of mc.
func (mc ModeChange) Bytes() []byte {
	out := make([]byte, 0, ModeChangeSize)
	out = append(out, mc.AdminToken[:]...)
	return append(out, mc.Mode)
}
