// Package stub is a simulated radio for running bridges without hardware.
//
// Operations complete as soon as they start. Two drivers joined with Connect
// hear each other's transmissions as long as they are tuned to the same
// channel: frequency, sync word, bandwidth, spreading factor and coding rate.
package stub

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ofauchon/lorabridge/link"
)

var ErrNoPacket = errors.New("no packet received")

type op uint8

const (
	opNone op = iota
	opScan
	opReceive
	opTransmit
)

func (o op) String() string {
	return [...]string{"none", "scan", "receive", "transmit"}[o]
}

// Driver implements link.Radio in memory.
type Driver struct {
	mu       sync.Mutex
	log      *zap.Logger
	notifier link.Notifier
	params   link.Params
	beginErr error

	peer    *Driver
	rxBuf   ringBuffer
	txBuf   ringBuffer
	pending []byte

	op       op
	overlaps int
	noise    func(frame []byte)
}

// New returns a driver with nothing on the air. log may be nil.
func New(log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{log: log.Named("stub")}
}

// Connect puts a and b on the same air.
func Connect(a, b *Driver) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// FailBegin makes the following calls to Begin fail with err. A nil err
// restores them.
func (d *Driver) FailBegin(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginErr = err
}

func (d *Driver) SetNotifier(n link.Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifier = n
}

func (d *Driver) Begin(p link.Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.beginErr != nil {
		return d.beginErr
	}
	d.params = p
	d.op = opNone
	d.pending = nil
	d.log.Debug("configured",
		zap.Uint32("frequency", p.Frequency),
		zap.Int32("bandwidth", p.Bandwidth),
		zap.Uint8("sf", p.SpreadingFactor),
		zap.Uint8("cr", p.CodingRate))
	return nil
}

// StartChannelScan reports activity when a packet is waiting on the air.
func (d *Driver) StartChannelScan() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.start(opScan)
	if d.rxBuf.count > 0 {
		d.raiseActivity()
	}
	d.op = opNone
	d.raiseDone()
	return nil
}

// StartReceive completes at once when a packet is waiting, otherwise when the
// next one arrives.
func (d *Driver) StartReceive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.start(opReceive)
	d.takePending()
	return nil
}

// StartTransmit logs data and hands it to the peer, if any.
func (d *Driver) StartTransmit(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)

	d.mu.Lock()
	d.start(opTransmit)
	d.txBuf.push(frame)
	peer, params := d.peer, d.params
	d.raiseDone()
	d.mu.Unlock()

	d.log.Debug("transmit", zap.Int("bytes", len(frame)))
	if peer != nil {
		peer.hear(params, frame)
	}
	return nil
}

func (d *Driver) FinishTransmit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.op = opNone
	return nil
}

func (d *Driver) Standby() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.op = opNone
	d.pending = nil
	return nil
}

func (d *Driver) PacketLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Driver) ReadData(n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.op = opNone
	if d.pending == nil {
		return nil, ErrNoPacket
	}
	if n > len(d.pending) {
		n = len(d.pending)
	}
	out := d.pending[:n]
	d.pending = nil
	return out, nil
}

// InjectRx puts a packet on the air as if a radio on the same channel sent
// it.
func (d *Driver) InjectRx(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxBuf.push(frame)
	if d.op == opReceive {
		d.takePending()
	}
}

// SetNoise makes fn alter every packet this driver hears from its peer. A
// nil fn gives a clean channel again.
func (d *Driver) SetNoise(fn func(frame []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noise = fn
}

// TxLog returns the packets transmitted so far, at most the last 64.
func (d *Driver) TxLog() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txBuf.snapshot()
}

// Params returns the parameters of the last successful Begin.
func (d *Driver) Params() link.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// Overlaps counts the operations started while another one was running.
func (d *Driver) Overlaps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overlaps
}

func (d *Driver) hear(from link.Params, frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !sameChannel(d.params, from) {
		d.log.Debug("not heard, channel mismatch", zap.Int("bytes", len(frame)))
		return
	}
	if d.noise != nil {
		frame = append([]byte(nil), frame...)
		d.noise(frame)
	}
	d.rxBuf.push(frame)
	if d.op == opReceive {
		d.takePending()
	}
}

func sameChannel(a, b link.Params) bool {
	return a.Frequency == b.Frequency &&
		a.SyncWord == b.SyncWord &&
		a.Bandwidth == b.Bandwidth &&
		a.SpreadingFactor == b.SpreadingFactor &&
		a.CodingRate == b.CodingRate
}

func (d *Driver) start(o op) {
	if d.op != opNone {
		d.overlaps++
		d.log.Warn("operation started while busy", zap.Stringer("running", d.op), zap.Stringer("started", o))
	}
	d.op = o
}

// takePending completes the receive in flight if a packet is waiting.
func (d *Driver) takePending() {
	if d.pending != nil {
		return
	}
	frame, ok := d.rxBuf.pop()
	if !ok {
		return
	}
	d.pending = frame
	d.raiseDone()
}

func (d *Driver) raiseDone() {
	if d.notifier != nil {
		d.notifier.RaiseOperationDone()
	}
}

func (d *Driver) raiseActivity() {
	if d.notifier != nil {
		d.notifier.RaiseActivityDetected()
	}
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int // head = next pop, tail = next push
	count      int
}

func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when buffer is full to keep memory bounded
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() ([]byte, bool) {
	if rb.count == 0 {
		return nil, false
	}
	frame := rb.data[rb.head]
	rb.data[rb.head] = nil
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return frame, true
}

func (rb *ringBuffer) snapshot() [][]byte {
	out := make([][]byte, 0, rb.count)
	for c, i := 0, rb.head; c < rb.count; c, i = c+1, (i+1)%ringCapacity {
		p := make([]byte, len(rb.data[i]))
		copy(p, rb.data[i])
		out = append(out, p)
	}
	return out
}
