package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameHeaderSize is the fixed length prefix on every relayed frame:
// a 4-byte unsigned big-endian payload length.
const FrameHeaderSize = 4

// MaxFrameSize bounds a single frame payload. Anything larger is treated as
// a protocol violation, not an allocation request.
const MaxFrameSize = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned by ReadFrame when the length prefix exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ReadFrame reads one length-prefixed frame and returns the payload.
// The payload is opaque to the relay; zero-length frames are legal.
// io.EOF is returned untouched when the stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload as a single length-prefixed frame. The header
// and payload are written in one call so a concurrent writer on the same
// connection cannot interleave between them.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := EncodeFrame(payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// EncodeFrame returns the wire bytes for payload: header plus payload in a
// single buffer. The relay uses this to fan the identical bytes out to
// every viewer without re-encoding per viewer.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	return buf
}
