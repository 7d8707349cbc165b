package packet

import "io"

// Source is a byte stream that can report how many bytes are ready.
type Source interface {
	io.ByteReader
	Available() int
}

// Drain reads the bytes src reports as available, at most limit of them. It
// never waits for bytes that arrive after the call.
func Drain(src Source, limit int) ([]byte, error) {
	n := src.Available()
	if n > limit {
		n = limit
	}
	if n <= 0 {
		return nil, nil
	}

	buf := make([]byte, 0, n)
	for len(buf) < n {
		b, err := src.ReadByte()
		if err != nil {
			return buf, err
		}
		buf = append(buf, b)
	}
	return buf, nil
}
