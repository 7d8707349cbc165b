package link

import "fmt"

// ModeName identifies one of the two radio parameter sets. The values match
// the mode byte of a mode change command.
type ModeName uint8

const (
	Safe ModeName = 0 // ~400 bps
	Fast ModeName = 1 // ~4 kbps
)

func (n ModeName) String() string {
	switch n {
	case Safe:
		return "safe"
	case Fast:
		return "fast"
	default:
		return fmt.Sprintf("mode(%d)", uint8(n))
	}
}

// Settings shared by both modes.
const (
	DefaultFrequency      = 434000000 // Hz
	DefaultSyncWord       = 0x12
	DefaultPreambleLength = 8
	DefaultTxPower        = 21 // dBm, clamped by the driver
)

// ModeDescriptor is the part of the radio configuration that differs between
// modes.
type ModeDescriptor struct {
	Name            ModeName
	Bandwidth       int32 // Hz
	SpreadingFactor uint8
	CodingRate      uint8
}

var (
	SafeMode = ModeDescriptor{Name: Safe, Bandwidth: 62500, SpreadingFactor: 10, CodingRate: 5}
	FastMode = ModeDescriptor{Name: Fast, Bandwidth: 62500, SpreadingFactor: 6, CodingRate: 5}
)

// Registry applies modes to the radio and remembers the active one.
type Registry struct {
	radio  Radio
	base   Params
	modes  [2]ModeDescriptor
	active ModeName
}

// NewRegistry returns a registry whose modes share the frequency, sync word,
// preamble length and power of base. Nothing is applied until Select.
func NewRegistry(r Radio, base Params) *Registry {
	return &Registry{
		radio:  r,
		base:   base,
		modes:  [2]ModeDescriptor{SafeMode, FastMode},
		active: Safe,
	}
}

// Active returns the mode last applied by Select.
func (g *Registry) Active() ModeDescriptor { return g.modes[g.active] }

// Lookup returns the descriptor of name.
func (g *Registry) Lookup(name ModeName) (ModeDescriptor, error) {
	if int(name) >= len(g.modes) {
		return ModeDescriptor{}, fmt.Errorf("%v: %w", name, ErrUnknownMode)
	}
	return g.modes[name], nil
}

// Params returns the full radio parameters for m.
func (g *Registry) Params(m ModeDescriptor) Params {
	p := g.base
	p.Bandwidth = m.Bandwidth
	p.SpreadingFactor = m.SpreadingFactor
	p.CodingRate = m.CodingRate
	return p
}

// Select re-initializes the radio with the parameters of name. A radio that
// rejects them leaves the link unusable, the error wraps ErrDriverInit.
func (g *Registry) Select(name ModeName) error {
	m, err := g.Lookup(name)
	if err != nil {
		return err
	}
	if err := g.radio.Begin(g.Params(m)); err != nil {
		return fmt.Errorf("selecting %v mode: %w: %w", name, ErrDriverInit, err)
	}
	g.active = name
	return nil
}
