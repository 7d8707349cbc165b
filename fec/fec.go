// Package fec protects radio packets with Reed-Solomon parity.
//
// An encoded packet has a fixed size. Its layout is
//
//	(shard1)(crc8_shard1)(shard2)(crc8_shard2)...(rs_shard1)(rs_shard2)...
//
// The data shards carry a length byte followed by the message, zero padded.
// On reception every data shard whose crc8 does not match is treated as
// erased and rebuilt from the parity shards, so up to parity shards can be
// lost per packet. The default geometry fills the 255 byte SX127x FIFO.
package fec

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
	"github.com/sigurn/crc8"
)

const (
	DefaultDataShards   = 40
	DefaultParityShards = 3
	DefaultShardSize    = 5
)

var (
	ErrTooLong       = errors.New("message too long")
	ErrShortPacket   = errors.New("packet too short")
	ErrUncorrectable = errors.New("uncorrectable packet")
)

var table = crc8.MakeTable(crc8.CRC8_MAXIM)

// Codec encodes and decodes packets of one geometry. It is safe for
// concurrent use.
type Codec struct {
	data, parity, size int
	enc                reedsolomon.Encoder
}

// New returns a codec for packets of data shards of size bytes, protected
// by parity shards.
func New(data, parity, size int) (*Codec, error) {
	if size < 1 || data*size < 2 || data*size > 256 {
		return nil, fmt.Errorf("fec: %d shards of %d bytes cannot hold a length byte and a message", data, size)
	}
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, fmt.Errorf("fec: %w", err)
	}
	return &Codec{data: data, parity: parity, size: size, enc: enc}, nil
}

// Default returns the codec for 255 byte packets carrying up to 199 bytes.
func Default() *Codec {
	c, err := New(DefaultDataShards, DefaultParityShards, DefaultShardSize)
	if err != nil {
		panic(err)
	}
	return c
}

// Capacity is the longest message Encode accepts.
func (c *Codec) Capacity() int { return c.data*c.size - 1 }

// PacketSize is the size of every encoded packet.
func (c *Codec) PacketSize() int { return c.data*(c.size+1) + c.parity*c.size }

// Encode wraps msg into a packet of PacketSize bytes.
func (c *Codec) Encode(msg []byte) ([]byte, error) {
	if len(msg) > c.Capacity() {
		return nil, fmt.Errorf("%d bytes, at most %d: %w", len(msg), c.Capacity(), ErrTooLong)
	}

	flat := make([]byte, (c.data+c.parity)*c.size)
	flat[0] = byte(len(msg))
	copy(flat[1:], msg)
	shards := c.split(flat)
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: %w", err)
	}

	out := make([]byte, 0, c.PacketSize())
	for i, s := range shards {
		out = append(out, s...)
		if i < c.data {
			out = append(out, crc8.Checksum(s, table))
		}
	}
	return out, nil
}

// Decode repairs pkt and returns the message it carries. Bytes past
// PacketSize, such as the padding of a fixed length radio packet, are
// ignored.
func (c *Codec) Decode(pkt []byte) ([]byte, error) {
	if len(pkt) < c.PacketSize() {
		return nil, fmt.Errorf("%d bytes, want %d: %w", len(pkt), c.PacketSize(), ErrShortPacket)
	}

	shards := make([][]byte, c.data+c.parity)
	lost := 0
	for i := 0; i < c.data; i++ {
		off := i * (c.size + 1)
		s := append([]byte(nil), pkt[off:off+c.size]...)
		if crc8.Checksum(s, table) != pkt[off+c.size] {
			lost++
			continue
		}
		shards[i] = s
	}
	base := c.data * (c.size + 1)
	for i := 0; i < c.parity; i++ {
		off := base + i*c.size
		shards[c.data+i] = append([]byte(nil), pkt[off:off+c.size]...)
	}

	if lost > 0 {
		if err := c.enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("%d shards lost: %w: %v", lost, ErrUncorrectable, err)
		}
		// Spare parity catches a corrupted shard that still matched its
		// crc8.
		if lost < c.parity {
			if ok, err := c.enc.Verify(shards); err != nil || !ok {
				return nil, fmt.Errorf("%d shards lost: %w", lost, ErrUncorrectable)
			}
		}
	}

	flat := make([]byte, 0, c.data*c.size)
	for _, s := range shards[:c.data] {
		flat = append(flat, s...)
	}
	n := int(flat[0])
	if n > c.Capacity() {
		return nil, fmt.Errorf("length %d: %w", n, ErrUncorrectable)
	}
	return flat[1 : 1+n], nil
}

func (c *Codec) split(flat []byte) [][]byte {
	shards := make([][]byte, c.data+c.parity)
	for i := range shards {
		shards[i] = flat[i*c.size : (i+1)*c.size : (i+1)*c.size]
	}
	return shards
}
