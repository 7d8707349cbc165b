package packet

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestEncodeHeaderLayout(t *testing.T) {
	c := qt.New(t)

	hdr, err := EncodeHeader(Header{
		Version:         0,
		Type:            1,
		SecondaryHeader: true,
		APID:            0x100,
		SequenceFlags:   3,
		SequenceCount:   5,
		PacketLength:    8,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(hdr[:], qt.DeepEquals, []byte{0x19, 0x00, 0xC0, 0x05, 0x00, 0x08})
}

func TestHeaderRoundTrip(t *testing.T) {
	c := qt.New(t)

	tests := []Header{
		{},
		{Version: MaxVersion, Type: 1, SecondaryHeader: true, APID: MaxAPID, SequenceFlags: MaxSequenceFlags, SequenceCount: MaxSequenceCount, PacketLength: 0xFFFF},
		{Version: 1, APID: 0x100, SequenceCount: 1},
		{Type: 1, SequenceFlags: 2, PacketLength: 255},
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		tests = append(tests, Header{
			Version:         uint8(rng.Intn(MaxVersion + 1)),
			Type:            uint8(rng.Intn(2)),
			SecondaryHeader: rng.Intn(2) == 1,
			APID:            uint16(rng.Intn(MaxAPID + 1)),
			SequenceFlags:   uint8(rng.Intn(MaxSequenceFlags + 1)),
			SequenceCount:   uint16(rng.Intn(MaxSequenceCount + 1)),
			PacketLength:    uint16(rng.Intn(0x10000)),
		})
	}

	for _, h := range tests {
		enc, err := EncodeHeader(h)
		c.Assert(err, qt.IsNil)
		got, err := DecodeHeader(enc[:])
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, h)
	}
}

func TestEncodeHeaderFieldRange(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		name string
		h    Header
	}{
		{"version", Header{Version: MaxVersion + 1}},
		{"type", Header{Type: 2}},
		{"apid", Header{APID: MaxAPID + 1}},
		{"sequence flags", Header{SequenceFlags: MaxSequenceFlags + 1}},
		{"sequence count", Header{SequenceCount: MaxSequenceCount + 1}},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			_, err := EncodeHeader(tt.h)
			c.Assert(err, qt.ErrorIs, ErrFieldRange)
		})
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	c := qt.New(t)

	for n := 0; n < HeaderSize; n++ {
		_, err := DecodeHeader(make([]byte, n))
		c.Assert(err, qt.ErrorIs, ErrMalformedFrame)
	}
}

func TestEncodeFrame(t *testing.T) {
	c := qt.New(t)

	_, err := EncodeFrame(Header{}, nil)
	c.Assert(err, qt.ErrorIs, ErrEmptyPayload)

	_, err = EncodeFrame(Header{}, make([]byte, MaxPayloadSize+1))
	c.Assert(err, qt.ErrorIs, ErrPayloadSize)

	data, err := EncodeFrame(Header{APID: 7}, []byte("hello"))
	c.Assert(err, qt.IsNil)
	c.Assert(data[:SyncSize], qt.DeepEquals, SyncMarker[:])
	h, err := DecodeHeader(data[SyncSize:])
	c.Assert(err, qt.IsNil)
	c.Assert(h.PacketLength, qt.Equals, uint16(4))
	c.Assert(h.APID, qt.Equals, uint16(7))
	c.Assert(data[PrefixSize:], qt.DeepEquals, []byte("hello"))
}

func mustFrame(c *qt.C, h Header, payload []byte) []byte {
	data, err := EncodeFrame(h, payload)
	c.Assert(err, qt.IsNil)
	return data
}

func TestDecodeFrameLength(t *testing.T) {
	c := qt.New(t)

	for _, size := range []int{1, 2, 9, 255, 256, 1000} {
		payload := bytes.Repeat([]byte{0xAA}, size)
		data := mustFrame(c, Header{APID: 3}, payload)

		f, err := NewDecoder(bytes.NewReader(data)).Decode()
		c.Assert(err, qt.IsNil)
		c.Assert(len(f.Raw), qt.Equals, SyncSize+HeaderSize+int(f.Header.PacketLength)+1)
		c.Assert(len(f.Raw), qt.Equals, f.Header.FrameSize())
		c.Assert(f.Payload(), qt.DeepEquals, payload)
	}
}

func TestDecoderSkipsNoise(t *testing.T) {
	c := qt.New(t)

	frame := mustFrame(c, Header{APID: 0x42, SequenceCount: 9}, []byte{1, 2, 3})

	rng := rand.New(rand.NewSource(7))
	random := make([]byte, 300)
	rng.Read(random)

	tests := []struct {
		name  string
		noise []byte
	}{
		{"no noise", nil},
		{"single byte", []byte{0x00}},
		{"random", random},
		{"partial marker", []byte{0x1A, 0xCF}},
		{"repeated first byte", []byte{0x1A, 0x1A, 0x1A}},
		{"marker missing last byte", []byte{0x1A, 0xCF, 0xFC}},
		{"broken marker then restart", []byte{0x1A, 0xCF, 0xFC, 0x1A, 0xCF}},
		{"marker bytes out of order", []byte{0xCF, 0xFC, 0x1D, 0x1A}},
	}

	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			stream := append(append([]byte{}, tt.noise...), frame...)
			d := NewDecoder(bytes.NewReader(stream))

			f, err := d.Decode()
			c.Assert(err, qt.IsNil)
			c.Assert(f.Raw, qt.DeepEquals, frame)
			c.Assert(f.Header.APID, qt.Equals, uint16(0x42))
			c.Assert(f.Header.SequenceCount, qt.Equals, uint16(9))
			c.Assert(d.Skipped, qt.Equals, len(tt.noise))
		})
	}
}

func TestDecoderBackToBack(t *testing.T) {
	c := qt.New(t)

	first := mustFrame(c, Header{APID: 1}, []byte("one"))
	second := mustFrame(c, Header{APID: 2}, []byte("two"))
	d := NewDecoder(bytes.NewReader(append(append([]byte{}, first...), second...)))

	f, err := d.Decode()
	c.Assert(err, qt.IsNil)
	c.Assert(f.Header.APID, qt.Equals, uint16(1))

	f, err = d.Decode()
	c.Assert(err, qt.IsNil)
	c.Assert(f.Header.APID, qt.Equals, uint16(2))
	c.Assert(d.Skipped, qt.Equals, 0)
}

func TestDecoderTruncated(t *testing.T) {
	c := qt.New(t)

	frame := mustFrame(c, Header{APID: 5}, []byte("payload"))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"noise only", []byte{0x00, 0x01, 0x1A}},
		{"partial marker", frame[:2]},
		{"partial header", frame[:SyncSize+3]},
		{"partial payload", frame[:len(frame)-1]},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			_, err := NewDecoder(bytes.NewReader(tt.data)).Decode()
			c.Assert(err, qt.ErrorIs, ErrMalformedFrame)
			c.Assert(errors.Is(err, io.EOF), qt.IsTrue)
		})
	}
}

type availReader struct {
	*bytes.Reader
}

func (r availReader) Available() int { return r.Len() }

func TestDrain(t *testing.T) {
	c := qt.New(t)

	src := availReader{bytes.NewReader([]byte("abcdef"))}
	got, err := Drain(src, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, "abcd")

	got, err = Drain(src, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, "ef")

	got, err = Drain(src, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)
}

func TestParseModeChange(t *testing.T) {
	c := qt.New(t)

	want := ModeChange{AdminToken: [AdminTokenSize]byte{1, 2, 3, 4, 5, 6, 7, 8}, Mode: 1}
	got, err := ParseModeChange(want.Bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, want)

	_, err = ParseModeChange(want.Bytes()[:ModeChangeSize-1])
	c.Assert(err, qt.ErrorIs, ErrMalformedFrame)

	_, err = ParseModeChange(append(want.Bytes(), 0))
	c.Assert(err, qt.ErrorIs, ErrMalformedFrame)
}
