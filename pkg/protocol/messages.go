package protocol

import (
	"bytes"
	"encoding/json"
	"io"
)

// Client types accepted in an AuthRequest.
const (
	ClientTypeHost   = "host"
	ClientTypeViewer = "viewer"
)

// Statuses returned in an AuthResponse.
const (
	StatusAuthSuccess     = "auth_success"
	StatusAuthFailed      = "auth_failed"
	StatusSessionNotFound = "session_not_found"
	StatusSessionConflict = "session_conflict"
	StatusProtocolError   = "protocol_error"
)

// AuthRequest is the first and only handshake message sent by a peer after
// connecting, before any relay traffic. Type must be "auth". SessionID is
// required when ClientType is "viewer" and ignored for hosts. SessionName
// is an optional host-chosen display name for the session directory.
type AuthRequest struct {
	Type        string `json:"type"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientType  string `json:"client_type"`
	SessionID   string `json:"session_id,omitempty"`
	SessionName string `json:"session_name,omitempty"`
}

// AuthResponse is sent by the relay to conclude the handshake. SessionID is
// set only on a successful host handshake and carries the newly created id.
type AuthResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StreamAfter returns the byte stream that continues past a JSON handshake
// message decoded from conn. Two things sit between the JSON value and the
// first frame byte: the newline json.Encoder appends after every message,
// and any stream bytes the decoder read ahead into its buffer. Both are
// handled here so the next read starts exactly at the frame header.
func StreamAfter(dec *json.Decoder, conn io.Reader) io.Reader {
	rest, _ := io.ReadAll(dec.Buffered())
	rest = bytes.TrimLeft(rest, " \t\r\n")
	if len(rest) == 0 {
		return conn
	}
	return io.MultiReader(bytes.NewReader(rest), conn)
}
