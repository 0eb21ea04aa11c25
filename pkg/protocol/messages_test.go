package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

// TestStreamAfter_HandshakeThenFrames covers the handoff from the JSON
// handshake to the frame stream: the encoder terminates the message with a
// newline and the decoder may read ahead into frame bytes. Neither may leak
// into the first frame header.
func TestStreamAfter_HandshakeThenFrames(t *testing.T) {
	t.Run("frame bytes already buffered by the decoder", func(t *testing.T) {
		var wire bytes.Buffer
		if err := json.NewEncoder(&wire).Encode(AuthResponse{Status: StatusAuthSuccess}); err != nil {
			t.Fatalf("encode handshake: %v", err)
		}
		if err := WriteFrame(&wire, []byte("abc")); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}

		dec := json.NewDecoder(&wire)
		var resp AuthResponse
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decode handshake: %v", err)
		}

		payload, err := ReadFrame(StreamAfter(dec, &wire))
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(payload) != "abc" {
			t.Errorf("payload = %q, want %q", payload, "abc")
		}
	})

	t.Run("frame bytes arrive after the handshake", func(t *testing.T) {
		var handshake bytes.Buffer
		if err := json.NewEncoder(&handshake).Encode(AuthResponse{Status: StatusAuthSuccess}); err != nil {
			t.Fatalf("encode handshake: %v", err)
		}

		dec := json.NewDecoder(&handshake)
		var resp AuthResponse
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decode handshake: %v", err)
		}

		// The connection delivers the frame only after the handshake was
		// fully consumed; the decoder buffered just the trailing newline.
		conn := strings.NewReader(string(EncodeFrame([]byte("later"))))
		payload, err := ReadFrame(StreamAfter(dec, conn))
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(payload) != "later" {
			t.Errorf("payload = %q, want %q", payload, "later")
		}
	})

	t.Run("no delimiter and nothing buffered", func(t *testing.T) {
		dec := json.NewDecoder(strings.NewReader(`{"status":"auth_success"}`))
		var resp AuthResponse
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decode handshake: %v", err)
		}

		b, err := io.ReadAll(StreamAfter(dec, strings.NewReader("rest")))
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if string(b) != "rest" {
			t.Errorf("stream = %q, want %q", b, "rest")
		}
	})
}
