package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("abc")

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	// Wire bytes must be exactly 4-byte BE length + payload.
	want := []byte{0x00, 0x00, 0x00, 0x03, 'a', 'b', 'c'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("wire bytes = %x, want %x", buf.Bytes(), want)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestReadFrame_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got))
	}
}

func TestReadFrame_EOFBetweenFrames(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 10)
	r := bytes.NewReader(append(header[:], []byte("short")...))

	_, err := ReadFrame(r)
	if err == nil {
		t.Fatal("expected error for truncated payload, got nil")
	}
	if errors.Is(err, io.EOF) {
		t.Errorf("truncated payload must not look like clean EOF, got %v", err)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(header[:]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncodeFrame(t *testing.T) {
	buf := EncodeFrame([]byte("xyz"))
	if len(buf) != FrameHeaderSize+3 {
		t.Fatalf("encoded length = %d, want %d", len(buf), FrameHeaderSize+3)
	}
	if binary.BigEndian.Uint32(buf) != 3 {
		t.Errorf("header length = %d, want 3", binary.BigEndian.Uint32(buf))
	}
}
