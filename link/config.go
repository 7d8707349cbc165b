package link

import (
	"time"

	"go.uber.org/zap"

	"github.com/ofauchon/lorabridge/packet"
)

// Framing selects how bytes from the host are turned into radio packets.
type Framing uint8

const (
	// FramingCommand reads one sync+header+payload frame per transmission.
	FramingCommand Framing = iota
	// FramingRaw sends whatever the host has buffered, without parsing it.
	FramingRaw
)

func (f Framing) String() string {
	if f == FramingRaw {
		return "raw"
	}
	return "command"
}

const (
	DefaultReceiveTimeout  = 10 * time.Second
	DefaultTransmitTimeout = 10 * time.Second
	DefaultModeChangeAPID  = 0x100
	// DefaultMaxPacketSize is the FIFO size of the SX127x.
	DefaultMaxPacketSize = 255
)

// Config holds the link parameters. Zero values are replaced by the defaults
// above.
type Config struct {
	// Radio settings shared by both modes.
	Frequency      uint32
	SyncWord       uint8
	PreambleLength uint16
	TxPower        int8

	ReceiveTimeout  time.Duration
	TransmitTimeout time.Duration

	Framing Framing
	// MaxPacketSize bounds what is handed to the radio.
	MaxPacketSize int
	// Codec, when set, encodes every transmitted packet and decodes every
	// received one. Both ends of the link must use the same codec.
	Codec Codec

	// ModeChangeAPID is the apid reserved for mode change commands.
	ModeChangeAPID uint16
	// AdminToken authenticates mode change commands. The zero token
	// disables them.
	AdminToken [packet.AdminTokenSize]byte

	// PollInterval is slept between ticks by Run. Zero only yields.
	PollInterval time.Duration

	Clock  Clock
	Logger *zap.Logger
	Mirror Mirror
}

func (c *Config) applyDefaults() {
	if c.Frequency == 0 {
		c.Frequency = DefaultFrequency
	}
	if c.SyncWord == 0 {
		c.SyncWord = DefaultSyncWord
	}
	if c.PreambleLength == 0 {
		c.PreambleLength = DefaultPreambleLength
	}
	if c.TxPower == 0 {
		c.TxPower = DefaultTxPower
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.TransmitTimeout == 0 {
		c.TransmitTimeout = DefaultTransmitTimeout
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	if c.ModeChangeAPID == 0 {
		c.ModeChangeAPID = DefaultModeChangeAPID
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Mirror == nil {
		c.Mirror = nopMirror{}
	}
}

func (c *Config) baseParams() Params {
	return Params{
		Frequency:      c.Frequency,
		SyncWord:       c.SyncWord,
		PreambleLength: c.PreambleLength,
		TxPower:        c.TxPower,
	}
}

type nopMirror struct{}

func (nopMirror) Forwarded([]byte)           {}
func (nopMirror) Transmitted([]byte)         {}
func (nopMirror) ModeChanged(ModeDescriptor) {}
