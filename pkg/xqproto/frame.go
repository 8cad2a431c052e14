package xqproto

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrame bounds a single frame's payload.
const DefaultMaxFrame = 64 << 10

var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Reader decodes length-prefixed JSON frames: a 4-byte big-endian length
// followed by that many bytes of JSON.
type Reader struct {
	r   *bufio.Reader
	max int
	buf []byte
}

func NewReader(r io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Reader{r: bufio.NewReader(r), max: maxFrame}
}

// Read returns the next message. Errors wrapping ErrMalformed leave the stream
// usable; any other error means the connection is gone.
func (fr *Reader) Read() (*Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > uint32(fr.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, fr.max)
	}
	if cap(fr.buf) < int(n) {
		fr.buf = make([]byte, n)
	}
	body := fr.buf[:n]
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Writer encodes messages as length-prefixed frames. It is not safe for
// concurrent use; the transport serialises writes through one goroutine.
type Writer struct {
	w   io.Writer
	max int
}

func NewWriter(w io.Writer, maxFrame int) *Writer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Writer{w: w, max: maxFrame}
}

func (fw *Writer) Write(m *Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", m.Type, err)
	}
	if len(body) > fw.max {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), fw.max)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = fw.w.Write(frame)
	return err
}
