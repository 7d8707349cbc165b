// Package hoststream turns a serial port, or any io.ReadWriteCloser, into the
// buffered host stream the link layer polls.
//
// A goroutine keeps reading the port into a bounded buffer so Available can
// report what arrived without blocking.
package hoststream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

var (
	ErrReadTimeout = errors.New("host read timed out")
	ErrClosed      = errors.New("host stream closed")
)

const (
	DefaultBaudRate   = 115200
	DefaultBufferSize = 4096
	chunkSize         = 256
)

// Config tunes a Port.
type Config struct {
	// ReadTimeout bounds each ReadByte. Zero waits until a byte arrives or
	// the port fails.
	ReadTimeout time.Duration
	// BufferSize is the number of bytes buffered before the reader stops
	// pulling from the port.
	BufferSize int
	Logger     *zap.Logger
}

// Port is a link.HostStream.
type Port struct {
	rw  io.ReadWriteCloser
	cfg Config
	log *zap.Logger

	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
	// err is returned once buf is drained.
	err    error
	closed bool
}

// OpenSerial opens the serial device name at baud (DefaultBaudRate when 0),
// 8N1.
func OpenSerial(name string, baud int, cfg Config) (*Port, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	sp, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if err := sp.ResetInputBuffer(); err != nil {
		sp.Close()
		return nil, fmt.Errorf("flushing %s: %w", name, err)
	}
	p := New(sp, cfg)
	p.log.Info("serial port open", zap.String("device", name), zap.Int("baud", baud))
	return p, nil
}

// New starts reading rw in the background.
func New(rw io.ReadWriteCloser, cfg Config) *Port {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &Port{
		rw:  rw,
		cfg: cfg,
		log: cfg.Logger.Named("host"),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.readLoop()
	return p
}

func (p *Port) readLoop() {
	chunk := make([]byte, chunkSize)
	for {
		p.mu.Lock()
		for len(p.buf) >= p.cfg.BufferSize && !p.closed {
			p.cond.Wait()
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		n, err := p.rw.Read(chunk)

		p.mu.Lock()
		p.buf = append(p.buf, chunk[:n]...)
		if err != nil && p.err == nil {
			p.err = err
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		if err != nil {
			if errors.Is(err, io.EOF) || p.isClosed() {
				p.log.Debug("host stream ended", zap.Error(err))
			} else {
				p.log.Warn("reading host stream", zap.Error(err))
			}
			return
		}
	}
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Available returns the number of bytes ReadByte can return without waiting.
func (p *Port) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// ReadByte returns the next byte, waiting for it if needed. Once the buffer is
// drained the error that stopped the reader is returned, ErrReadTimeout if the
// configured timeout expires first.
func (p *Port) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	expired := false
	if len(p.buf) == 0 && p.err == nil && p.cfg.ReadTimeout > 0 {
		t := time.AfterFunc(p.cfg.ReadTimeout, func() {
			p.mu.Lock()
			expired = true
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		defer t.Stop()
	}

	for len(p.buf) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		if expired {
			return 0, ErrReadTimeout
		}
		p.cond.Wait()
	}
	b := p.buf[0]
	p.buf = p.buf[1:]
	p.cond.Broadcast()
	return b, nil
}

// Write sends data to the host.
func (p *Port) Write(data []byte) (int, error) {
	n, err := p.rw.Write(data)
	if err != nil {
		return n, fmt.Errorf("writing host stream: %w", err)
	}
	return n, nil
}

// Close stops the reader and closes the port. Pending and later reads fail
// with ErrClosed once the buffer is drained.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.err == nil {
		p.err = ErrClosed
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	return p.rw.Close()
}
