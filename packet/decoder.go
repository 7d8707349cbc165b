package packet

import (
	"bytes"
	"fmt"
	"io"
)

// Decoder extracts frames from an unstructured byte stream. Bytes before a
// sync marker are discarded.
//
// Reads block until the underlying reader returns a byte or an error; a
// reader that never returns stalls Decode.
type Decoder struct {
	r io.ByteReader

	// Skipped counts the noise bytes discarded while hunting for sync.
	Skipped int
}

func NewDecoder(r io.ByteReader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the next frame. A reader error met before or inside the frame
// is reported as ErrMalformedFrame wrapping the reader error.
func (d *Decoder) Decode() (Frame, error) {
	if err := d.sync(); err != nil {
		return Frame{}, fmt.Errorf("waiting for sync: %w: %w", ErrMalformedFrame, err)
	}

	var buf bytes.Buffer
	buf.Grow(PrefixSize)
	buf.Write(SyncMarker[:])
	if err := d.readN(&buf, HeaderSize); err != nil {
		return Frame{}, fmt.Errorf("reading header: %w: %w", ErrMalformedFrame, err)
	}

	h, err := DecodeHeader(buf.Bytes()[SyncSize:])
	if err != nil {
		return Frame{}, err
	}

	buf.Grow(h.PayloadSize())
	if err := d.readN(&buf, h.PayloadSize()); err != nil {
		return Frame{}, fmt.Errorf("reading %d byte payload: %w: %w", h.PayloadSize(), ErrMalformedFrame, err)
	}

	return Frame{Raw: buf.Bytes(), Header: h}, nil
}

// sync consumes bytes until the whole marker has been seen contiguously. The
// byte that breaks a partial match is checked again as a possible first byte.
func (d *Decoder) sync() error {
	matched := 0
	for matched < SyncSize {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if b == SyncMarker[matched] {
			matched++
			continue
		}
		d.Skipped += matched
		matched = 0
		if b == SyncMarker[0] {
			matched = 1
		} else {
			d.Skipped++
		}
	}
	return nil
}

func (d *Decoder) readN(buf *bytes.Buffer, n int) error {
	for i := 0; i < n; i++ {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
	}
	return nil
}
