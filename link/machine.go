package link

import (
	"context"
	"crypto/subtle"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ofauchon/lorabridge/packet"
)

// Machine is the link state machine. It owns the radio: nothing else may call
// the Radio while the machine is in use. Only the Notifier side (Latch) may
// be used concurrently with Tick.
type Machine struct {
	cfg   Config
	radio Radio
	irq   IRQPoller // nil when the radio raises the latch itself
	host  HostStream
	log   *zap.Logger

	latch Latch
	timer Timer
	modes *Registry
	dec   *packet.Decoder

	// limit bounds the host data taken per transmission.
	limit int

	state State
	// last is the frame handed to the radio, examined once in Adapting.
	last *packet.Frame
}

// New builds a machine and initializes the radio in Safe mode. The returned
// error wraps ErrDriverInit when the radio rejects the Safe parameters.
func New(r Radio, host HostStream, cfg Config) (*Machine, error) {
	cfg.applyDefaults()

	m := &Machine{
		cfg:   cfg,
		radio: r,
		host:  host,
		log:   cfg.Logger.Named("link"),
		modes: NewRegistry(r, cfg.baseParams()),
		dec:   packet.NewDecoder(host),
		limit: cfg.MaxPacketSize,
		state: Idle,
	}
	if cfg.Codec != nil && cfg.Codec.Capacity() < m.limit {
		m.limit = cfg.Codec.Capacity()
	}
	m.irq, _ = r.(IRQPoller)
	r.SetNotifier(&m.latch)

	if err := m.modes.Select(Safe); err != nil {
		return nil, err
	}
	m.log.Info("link up",
		zap.Stringer("mode", m.modes.Active().Name),
		zap.Stringer("framing", cfg.Framing),
		zap.Uint32("frequency", cfg.Frequency))
	return m, nil
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Mode returns the active radio mode.
func (m *Machine) Mode() ModeDescriptor { return m.modes.Active() }

// Latch returns the notifier the radio reports to.
func (m *Machine) Latch() *Latch { return &m.latch }

// Tick runs one pass of the state machine. Only fatal errors are returned;
// they wrap ErrDriverInit and the machine must not be ticked again.
func (m *Machine) Tick() error {
	if m.irq != nil {
		if err := m.irq.PollIRQ(); err != nil {
			m.log.Warn("reading radio interrupts", zap.Error(fmt.Errorf("%w: %w", ErrDriverOperation, err)))
		}
	}
	next, err := m.step()
	if next != m.state {
		m.log.Debug("transition", zap.Stringer("from", m.state), zap.Stringer("to", next))
	}
	m.state = next
	return err
}

// Run ticks until ctx is done or a fatal error occurs.
func (m *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.Tick(); err != nil {
			return err
		}
		if m.cfg.PollInterval > 0 {
			time.Sleep(m.cfg.PollInterval)
		} else {
			runtime.Gosched()
		}
	}
}

func (m *Machine) step() (State, error) {
	switch m.state {
	case Idle:
		if m.host.Available() > 0 {
			return Decoding, nil
		}
		m.latch.clear()
		if err := m.radio.StartChannelScan(); err != nil {
			m.operationFailed("channel scan", err)
			return Idle, nil
		}
		return Detecting, nil

	case Detecting:
		// A detection wins over the end of scan raised alongside it.
		if m.latch.PopActivityDetected() {
			m.latch.clear()
			if err := m.radio.StartReceive(); err != nil {
				m.operationFailed("receive", err)
				return Idle, nil
			}
			m.timer.Arm(m.cfg.Clock())
			return Receiving, nil
		}
		if m.latch.PopOperationDone() {
			return Idle, nil
		}
		return Detecting, nil

	case Receiving:
		if m.latch.PopOperationDone() {
			return Forwarding, nil
		}
		if m.timer.Expired(m.cfg.Clock(), m.cfg.ReceiveTimeout) {
			m.abandon("receive", m.cfg.ReceiveTimeout, m.radio.Standby)
			return Idle, nil
		}
		return Receiving, nil

	case Forwarding:
		m.forward()
		return Idle, nil

	case Decoding:
		data := m.takeHostData()
		if len(data) == 0 {
			return Idle, nil
		}
		air, err := m.encode(data)
		if err != nil {
			m.log.Warn("dropping host data", zap.Int("bytes", len(data)), zap.Error(err))
			m.last = nil
			return Idle, nil
		}
		m.latch.clear()
		if err := m.radio.StartTransmit(air); err != nil {
			// The frame was already taken from the host and is lost.
			m.operationFailed("transmit", err)
			m.last = nil
			return Idle, nil
		}
		m.timer.Arm(m.cfg.Clock())
		m.cfg.Mirror.Transmitted(data)
		return Transmitting, nil

	case Transmitting:
		if m.latch.PopOperationDone() {
			if err := m.radio.FinishTransmit(); err != nil {
				m.log.Warn("finishing transmit", zap.Error(err))
			}
			return Adapting, nil
		}
		if m.timer.Expired(m.cfg.Clock(), m.cfg.TransmitTimeout) {
			m.last = nil
			m.abandon("transmit", m.cfg.TransmitTimeout, m.radio.FinishTransmit)
			return Idle, nil
		}
		return Transmitting, nil

	case Adapting:
		return Idle, m.adapt()

	default:
		m.log.Error("resetting link", zap.Error(fmt.Errorf("%w: %v", ErrBadState, m.state)))
		m.last = nil
		return Idle, nil
	}
}

// operationFailed logs a radio operation that did not start. The machine
// retries on its next pass through the state that issues it.
func (m *Machine) operationFailed(op string, err error) {
	m.log.Warn("radio operation not started",
		zap.String("op", op),
		zap.Error(fmt.Errorf("%w: %w", ErrDriverOperation, err)))
}

// abandon gives up on the operation in flight and leaves the radio ready for
// the next one.
func (m *Machine) abandon(op string, after time.Duration, cleanup func() error) {
	m.log.Warn("abandoning radio operation",
		zap.String("op", op),
		zap.Duration("after", after),
		zap.Error(ErrFrameTimeout))
	if err := cleanup(); err != nil {
		m.log.Warn("radio clean up", zap.String("op", op), zap.Error(err))
	}
	m.latch.clear()
}

// takeHostData returns the bytes to transmit next, according to the framing.
func (m *Machine) takeHostData() []byte {
	if m.cfg.Framing == FramingRaw {
		m.last = nil
		data, err := packet.Drain(m.host, m.limit)
		if err != nil {
			m.log.Warn("reading host stream", zap.Error(err))
		}
		return data
	}

	f, err := m.dec.Decode()
	if err != nil {
		m.last = nil
		m.log.Warn("decoding host frame", zap.Error(err))
		return nil
	}
	if len(f.Raw) > m.limit {
		m.last = nil
		m.log.Warn("dropping host frame",
			zap.Int("bytes", len(f.Raw)),
			zap.Int("max", m.limit),
			zap.Uint16("apid", f.Header.APID))
		return nil
	}
	m.last = &f
	m.log.Debug("host frame",
		zap.Uint16("apid", f.Header.APID),
		zap.Uint16("seq", f.Header.SequenceCount),
		zap.Int("bytes", len(f.Raw)),
		zap.Int("skipped", m.dec.Skipped))
	return f.Raw
}

func (m *Machine) encode(data []byte) ([]byte, error) {
	if m.cfg.Codec == nil {
		return data, nil
	}
	pkt, err := m.cfg.Codec.Encode(data)
	if err != nil {
		return nil, err
	}
	if len(pkt) > m.cfg.MaxPacketSize {
		return nil, fmt.Errorf("encoded packet of %d bytes exceeds %d", len(pkt), m.cfg.MaxPacketSize)
	}
	return pkt, nil
}

// forward copies the received packet to the host. Packets the radio reports
// as bad are dropped.
func (m *Machine) forward() {
	n := m.radio.PacketLength()
	data, err := m.radio.ReadData(n)
	if err != nil {
		m.log.Debug("dropping received packet", zap.Int("bytes", n), zap.Error(err))
		return
	}
	if m.cfg.Codec != nil {
		if data, err = m.cfg.Codec.Decode(data); err != nil {
			m.log.Debug("dropping received packet", zap.Int("bytes", n), zap.Error(err))
			return
		}
	}
	if _, err := m.host.Write(data); err != nil {
		m.log.Warn("writing host stream", zap.Error(err))
	}
	m.cfg.Mirror.Forwarded(data)
}

// adapt applies the mode change carried by the last transmitted frame, if
// any. Only a radio init failure is returned.
func (m *Machine) adapt() error {
	f := m.last
	m.last = nil
	if f == nil || f.Header.APID != m.cfg.ModeChangeAPID {
		return nil
	}

	mc, err := packet.ParseModeChange(f.Payload())
	if err != nil {
		m.log.Warn("rejecting mode change", zap.Error(err))
		return nil
	}
	if err := m.authorize(mc.AdminToken); err != nil {
		m.log.Warn("rejecting mode change", zap.Error(err))
		return nil
	}
	name := ModeName(mc.Mode)
	if _, err := m.modes.Lookup(name); err != nil {
		m.log.Warn("rejecting mode change", zap.Error(err))
		return nil
	}
	if name == m.modes.Active().Name {
		m.log.Debug("mode unchanged", zap.Stringer("mode", name))
		return nil
	}

	if err := m.modes.Select(name); err != nil {
		return err
	}
	active := m.modes.Active()
	m.log.Info("mode changed",
		zap.Stringer("mode", active.Name),
		zap.Int32("bandwidth", active.Bandwidth),
		zap.Uint8("sf", active.SpreadingFactor),
		zap.Uint8("cr", active.CodingRate))
	m.cfg.Mirror.ModeChanged(active)
	return nil
}

func (m *Machine) authorize(token [packet.AdminTokenSize]byte) error {
	var zero [packet.AdminTokenSize]byte
	if m.cfg.AdminToken == zero {
		return fmt.Errorf("mode changes disabled: %w", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare(token[:], m.cfg.AdminToken[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}
