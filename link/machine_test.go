package link

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ofauchon/lorabridge/packet"
)

var testToken = [packet.AdminTokenSize]byte{1, 2, 3, 4, 5, 6, 7, 8}

func TestNewSelectsSafeMode(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	c.Assert(f.m.State(), qt.Equals, Idle)
	c.Assert(f.m.Mode(), qt.Equals, SafeMode)
	c.Assert(f.radio.n, qt.Equals, Notifier(f.m.Latch()))
	c.Assert(f.radio.begins, qt.HasLen, 1)
	c.Assert(f.radio.begins[0], qt.Equals, Params{
		Frequency:       DefaultFrequency,
		Bandwidth:       62500,
		SpreadingFactor: 10,
		CodingRate:      5,
		SyncWord:        DefaultSyncWord,
		PreambleLength:  DefaultPreambleLength,
		TxPower:         DefaultTxPower,
	})
}

func TestNewInitFailure(t *testing.T) {
	c := qt.New(t)

	_, err := New(&fakeRadio{beginErr: errors.New("no chip")}, &fakeHost{}, Config{})
	c.Assert(err, qt.ErrorIs, ErrDriverInit)
}

// TestTransitions checks the next state for every state and every
// combination of inputs.
func TestTransitions(t *testing.T) {
	type inputs struct {
		activity, done, expired, host bool
	}
	next := func(s State, in inputs) State {
		switch s {
		case Idle:
			if in.host {
				return Decoding
			}
			return Detecting
		case Detecting:
			if in.activity {
				return Receiving
			}
			if in.done {
				return Idle
			}
			return Detecting
		case Receiving:
			if in.done {
				return Forwarding
			}
			if in.expired {
				return Idle
			}
			return Receiving
		case Transmitting:
			if in.done {
				return Adapting
			}
			if in.expired {
				return Idle
			}
			return Transmitting
		case Decoding:
			if in.host {
				return Transmitting
			}
			return Idle
		}
		return Idle
	}

	c := qt.New(t)
	for s := Idle; s <= Forwarding; s++ {
		for i := 0; i < 16; i++ {
			in := inputs{activity: i&1 != 0, done: i&2 != 0, expired: i&4 != 0, host: i&8 != 0}
			c.Run(s.String(), func(c *qt.C) {
				f := newFixture(c, Config{})
				f.radio.rx = []byte("radio")
				f.m.state = s
				if in.host {
					f.host.in.Write(encodeFrame(c, 0x10, []byte("host")))
				}
				if in.activity {
					f.m.latch.RaiseActivityDetected()
				}
				if in.done {
					f.m.latch.RaiseOperationDone()
				}
				if in.expired {
					f.now = uint32(DefaultReceiveTimeout.Milliseconds()) + 1
				}
				f.tick(c, next(s, in))
			})
		}
	}
}

func TestIdleScans(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.m.latch.RaiseOperationDone()
	f.tick(c, Detecting)
	c.Assert(f.radio.last(), qt.Equals, "scan")
	// A stale notification does not end the new scan.
	f.tick(c, Detecting)

	f.radio.n.RaiseOperationDone()
	f.tick(c, Idle)
}

func TestIdleScanFailureRetries(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.radio.scanErr = errors.New("busy")
	f.tick(c, Idle)
	f.tick(c, Idle)
	c.Assert(f.radio.calls, qt.DeepEquals, []string{"begin", "scan", "scan"})

	logs := f.logs.FilterMessage("radio operation not started").All()
	c.Assert(logs, qt.HasLen, 2)
	c.Assert(logs[0].Level, qt.Equals, zapcore.WarnLevel)

	f.radio.scanErr = nil
	f.tick(c, Detecting)
}

func TestHostDataPreemptsScan(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.host.in.WriteString("x")
	f.tick(c, Decoding)
	c.Assert(f.radio.calls, qt.DeepEquals, []string{"begin"})
}

func TestActivityWinsOverScanDone(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.tick(c, Detecting)

	f.radio.n.RaiseActivityDetected()
	f.radio.n.RaiseOperationDone()
	f.tick(c, Receiving)
	c.Assert(f.radio.last(), qt.Equals, "receive")

	// The scan's own completion must not end the receive.
	f.tick(c, Receiving)
}

// pollingRadio reports its interrupts from PollIRQ, like the SX126x.
type pollingRadio struct {
	*fakeRadio
	polls   int
	pending bool
	err     error
}

func (r *pollingRadio) PollIRQ() error {
	r.polls++
	if !r.pending {
		return nil
	}
	r.pending = false
	r.n.RaiseActivityDetected()
	r.n.RaiseOperationDone()
	return r.err
}

func TestPollsRadioBeforeStep(t *testing.T) {
	c := qt.New(t)

	core, logs := observer.New(zap.DebugLevel)
	r := &pollingRadio{fakeRadio: &fakeRadio{}}
	m, err := New(r, &fakeHost{}, Config{Clock: func() uint32 { return 0 }, Logger: zap.New(core)})
	c.Assert(err, qt.IsNil)

	c.Assert(m.Tick(), qt.IsNil)
	c.Assert(m.State(), qt.Equals, Detecting)
	c.Assert(r.polls, qt.Equals, 1)

	// The interrupts read on this tick are acted upon on this tick.
	r.pending = true
	r.err = errors.New("spi closed")
	c.Assert(m.Tick(), qt.IsNil)
	c.Assert(m.State(), qt.Equals, Receiving)
	c.Assert(r.last(), qt.Equals, "receive")
	c.Assert(logs.FilterMessage("reading radio interrupts").Len(), qt.Equals, 1)
}

func TestReceiveStartFailure(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.radio.rxErr = errors.New("busy")
	f.tick(c, Detecting)
	f.radio.n.RaiseActivityDetected()
	f.tick(c, Idle)
}

func TestReceiveForwards(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.radio.rx = []byte("hello from the air")
	f.tick(c, Detecting)
	f.radio.n.RaiseActivityDetected()
	f.tick(c, Receiving)

	f.now += 500
	f.radio.n.RaiseOperationDone()
	f.tick(c, Forwarding)
	f.tick(c, Idle)

	c.Assert(f.host.out.String(), qt.Equals, "hello from the air")
	c.Assert(f.mirror.forwarded, qt.DeepEquals, [][]byte{[]byte("hello from the air")})
}

func TestReceiveDoneWinsOverTimeout(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.radio.rx = []byte{1, 2, 3}
	f.tick(c, Detecting)
	f.radio.n.RaiseActivityDetected()
	f.tick(c, Receiving)

	f.now += 60000
	f.radio.n.RaiseOperationDone()
	f.tick(c, Forwarding)
}

func TestReceiveTimeout(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{ReceiveTimeout: time.Second})
	f.now = 0xFFFFFF00
	f.tick(c, Detecting)
	f.radio.n.RaiseActivityDetected()
	f.tick(c, Receiving)

	f.now += 1000
	f.tick(c, Receiving)
	f.now++
	f.tick(c, Idle)
	c.Assert(f.radio.last(), qt.Equals, "standby")
	c.Assert(f.logs.FilterMessage("abandoning radio operation").Len(), qt.Equals, 1)

	f.tick(c, Detecting)
}

func TestBadPacketDropped(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.radio.rx = []byte{1, 2, 3}
	f.radio.readErr = errors.New("crc")
	f.m.state = Forwarding
	f.tick(c, Idle)
	c.Assert(f.host.out.Len(), qt.Equals, 0)
	c.Assert(f.mirror.forwarded, qt.HasLen, 0)
}

func TestTransmitFrame(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	frame := encodeFrame(c, 0x42, []byte("telemetry"))
	f.host.in.Write([]byte{0x00, 0x1A, 0xCF})
	f.host.in.Write(frame)
	f.host.in.Write(frame)

	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	c.Assert(f.radio.sent, qt.DeepEquals, [][]byte{frame})
	c.Assert(f.mirror.transmitted, qt.DeepEquals, [][]byte{frame})
	c.Assert(f.host.Available(), qt.Equals, len(frame))

	f.radio.n.RaiseOperationDone()
	f.tick(c, Adapting)
	c.Assert(f.radio.last(), qt.Equals, "finish")
	f.tick(c, Idle)
	c.Assert(f.m.Mode(), qt.Equals, SafeMode)

	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	c.Assert(f.radio.sent, qt.HasLen, 2)
	c.Assert(f.host.Available(), qt.Equals, 0)
}

func TestTransmitTimeout(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{AdminToken: testToken})
	cmd := packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}
	f.host.in.Write(encodeFrame(c, DefaultModeChangeAPID, cmd.Bytes()))
	f.tick(c, Decoding)
	f.tick(c, Transmitting)

	f.now += uint32(DefaultTransmitTimeout.Milliseconds()) + 1
	f.tick(c, Idle)
	c.Assert(f.radio.last(), qt.Equals, "finish")
	// The command never went out, the mode stays.
	c.Assert(f.m.Mode(), qt.Equals, SafeMode)
}

func TestTransmitStartFailure(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.radio.txErr = errors.New("busy")
	f.host.in.Write(encodeFrame(c, 1, []byte{1}))
	f.tick(c, Decoding)
	f.tick(c, Idle)
	c.Assert(f.mirror.transmitted, qt.HasLen, 0)
}

func TestUndecodableHostData(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.host.in.WriteString("no sync marker here")
	f.tick(c, Decoding)
	f.tick(c, Idle)
	c.Assert(f.radio.sent, qt.HasLen, 0)
	c.Assert(f.logs.FilterMessage("decoding host frame").Len(), qt.Equals, 1)
}

func TestOversizeFrameDropped(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{MaxPacketSize: 20})
	f.host.in.Write(encodeFrame(c, 1, bytes.Repeat([]byte{0xAA}, 11)))
	f.tick(c, Decoding)
	f.tick(c, Idle)
	c.Assert(f.radio.sent, qt.HasLen, 0)
}

func TestRawFraming(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{Framing: FramingRaw, AdminToken: testToken})
	data := bytes.Repeat([]byte{0x55}, 300)
	f.host.in.Write(data)

	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	c.Assert(f.radio.sent, qt.DeepEquals, [][]byte{data[:DefaultMaxPacketSize]})
	c.Assert(f.host.Available(), qt.Equals, 300-DefaultMaxPacketSize)

	f.radio.n.RaiseOperationDone()
	f.tick(c, Adapting)
	f.tick(c, Idle)
	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	c.Assert(f.radio.sent[1], qt.DeepEquals, data[DefaultMaxPacketSize:])
}

func TestRawFramingIgnoresModeChange(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{Framing: FramingRaw, AdminToken: testToken})
	cmd := packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}
	f.host.in.Write(encodeFrame(c, DefaultModeChangeAPID, cmd.Bytes()))
	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	f.radio.n.RaiseOperationDone()
	f.tick(c, Adapting)
	f.tick(c, Idle)
	c.Assert(f.m.Mode(), qt.Equals, SafeMode)
}

func sendModeChange(c *qt.C, f *fixture, payload []byte) {
	c.Helper()
	f.host.in.Write(encodeFrame(c, DefaultModeChangeAPID, payload))
	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	f.radio.n.RaiseOperationDone()
	f.tick(c, Adapting)
	f.tick(c, Idle)
}

func TestModeChange(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{AdminToken: testToken})
	sendModeChange(c, f, packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}.Bytes())

	c.Assert(f.m.Mode(), qt.Equals, FastMode)
	c.Assert(f.radio.begins, qt.HasLen, 2)
	c.Assert(f.radio.begins[1].SpreadingFactor, qt.Equals, uint8(6))
	c.Assert(f.radio.begins[1].Bandwidth, qt.Equals, int32(62500))
	c.Assert(f.mirror.modes, qt.DeepEquals, []ModeDescriptor{FastMode})

	// Asking for the active mode again does not touch the radio.
	sendModeChange(c, f, packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}.Bytes())
	c.Assert(f.radio.begins, qt.HasLen, 2)

	sendModeChange(c, f, packet.ModeChange{AdminToken: testToken, Mode: byte(Safe)}.Bytes())
	c.Assert(f.m.Mode(), qt.Equals, SafeMode)
	c.Assert(f.radio.begins[2].SpreadingFactor, qt.Equals, uint8(10))
}

func TestModeChangeCustomAPID(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{AdminToken: testToken, ModeChangeAPID: 0x7F0})
	cmd := packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}.Bytes()

	sendModeChange(c, f, cmd)
	c.Assert(f.m.Mode(), qt.Equals, SafeMode)

	f.host.in.Write(encodeFrame(c, 0x7F0, cmd))
	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	f.radio.n.RaiseOperationDone()
	f.tick(c, Adapting)
	f.tick(c, Idle)
	c.Assert(f.m.Mode(), qt.Equals, FastMode)
}

func TestModeChangeRejected(t *testing.T) {
	wrong := testToken
	wrong[7] ^= 0xFF

	tests := []struct {
		name    string
		token   [packet.AdminTokenSize]byte
		payload []byte
	}{{
		name:    "wrong token",
		token:   testToken,
		payload: packet.ModeChange{AdminToken: wrong, Mode: byte(Fast)}.Bytes(),
	}, {
		name:    "disabled",
		payload: packet.ModeChange{Mode: byte(Fast)}.Bytes(),
	}, {
		name:    "short payload",
		token:   testToken,
		payload: testToken[:],
	}, {
		name:    "long payload",
		token:   testToken,
		payload: append(packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}.Bytes(), 0),
	}, {
		name:    "unknown mode",
		token:   testToken,
		payload: packet.ModeChange{AdminToken: testToken, Mode: 7}.Bytes(),
	}}

	c := qt.New(t)
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			f := newFixture(c, Config{AdminToken: tt.token})
			sendModeChange(c, f, tt.payload)

			c.Assert(f.m.Mode(), qt.Equals, SafeMode)
			c.Assert(f.radio.begins, qt.HasLen, 1)
			c.Assert(f.mirror.modes, qt.HasLen, 0)
			c.Assert(f.radio.sent, qt.HasLen, 1)
			c.Assert(f.logs.FilterMessage("rejecting mode change").Len(), qt.Equals, 1)
		})
	}
}

func TestModeChangeInitFailureIsFatal(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{AdminToken: testToken})
	f.host.in.Write(encodeFrame(c, DefaultModeChangeAPID, packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}.Bytes()))
	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	f.radio.n.RaiseOperationDone()
	f.tick(c, Adapting)

	f.radio.beginErr = errors.New("spi gone")
	c.Assert(f.m.Tick(), qt.ErrorIs, ErrDriverInit)
	c.Assert(f.m.Mode(), qt.Equals, SafeMode)
}

func TestBadStateResets(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{})
	f.m.state = State(42)
	f.tick(c, Idle)

	logs := f.logs.FilterMessage("resetting link").All()
	c.Assert(logs, qt.HasLen, 1)
	c.Assert(logs[0].Level, qt.Equals, zapcore.ErrorLevel)
}

func TestRunStopsOnContext(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{PollInterval: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c.Assert(f.m.Run(ctx), qt.ErrorIs, context.DeadlineExceeded)
}

func TestRunStopsOnFatal(t *testing.T) {
	c := qt.New(t)

	f := newFixture(c, Config{AdminToken: testToken})
	f.host.in.Write(encodeFrame(c, DefaultModeChangeAPID, packet.ModeChange{AdminToken: testToken, Mode: byte(Fast)}.Bytes()))
	f.tick(c, Decoding)
	f.tick(c, Transmitting)
	f.radio.n.RaiseOperationDone()
	f.radio.beginErr = errors.New("spi gone")

	c.Assert(f.m.Run(context.Background()), qt.ErrorIs, ErrDriverInit)
}
