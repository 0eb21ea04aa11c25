// Package peer implements the client side of the relay protocol: dialing,
// the authentication handshake, and frame/control traffic for both the host
// and viewer roles.
package peer

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	apperrors "screenrelay/internal/errors"
	"screenrelay/pkg/protocol"
)

const handshakeTimeout = 10 * time.Second

// Config carries everything needed to reach and authenticate with the relay.
type Config struct {
	ServerAddr string
	Username   string
	Password   string

	// SessionName is an optional display name for hosted sessions.
	SessionName string

	// UseTLS dials the relay over TLS. InsecureSkipVerify is for
	// self-signed development certificates only.
	UseTLS             bool
	InsecureSkipVerify bool
}

func (c Config) dial() (net.Conn, error) {
	if c.UseTLS {
		conn, err := tls.Dial("tcp", c.ServerAddr, &tls.Config{
			InsecureSkipVerify: c.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("tls dial %s: %w", c.ServerAddr, err)
		}
		return conn, nil
	}

	conn, err := net.Dial("tcp", c.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.ServerAddr, err)
	}
	return conn, nil
}

// handshake sends the auth message and reads the relay's verdict. The
// returned reader carries any stream bytes the response decoder buffered.
func handshake(conn net.Conn, req protocol.AuthRequest) (protocol.AuthResponse, io.Reader, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return protocol.AuthResponse{}, nil, fmt.Errorf("send auth request: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp protocol.AuthResponse
	if err := decoder.Decode(&resp); err != nil {
		return protocol.AuthResponse{}, nil, fmt.Errorf("read auth response: %w", err)
	}

	return resp, protocol.StreamAfter(decoder, conn), nil
}

// statusErr maps a non-success handshake status onto the shared taxonomy.
func statusErr(resp protocol.AuthResponse) error {
	switch resp.Status {
	case protocol.StatusAuthSuccess:
		return nil
	case protocol.StatusAuthFailed:
		return apperrors.ErrAuthFailed
	case protocol.StatusSessionNotFound:
		return apperrors.ErrSessionNotFound
	case protocol.StatusSessionConflict:
		return apperrors.ErrSessionConflict
	default:
		return fmt.Errorf("relay rejected handshake: %s %s", resp.Status, resp.Error)
	}
}

// HostSession is an authenticated host connection. Frames written with
// SendFrame are fanned out by the relay to every attached viewer; bytes
// read with ReadControl come from viewers' sink channels.
type HostSession struct {
	SessionID string

	conn net.Conn
	r    io.Reader
}

// Host dials the relay and authenticates as a session host. The relay
// creates a fresh session and returns its id.
func Host(cfg Config) (*HostSession, error) {
	conn, err := cfg.dial()
	if err != nil {
		return nil, err
	}

	resp, r, err := handshake(conn, protocol.AuthRequest{
		Type:        "auth",
		Username:    cfg.Username,
		Password:    cfg.Password,
		ClientType:  protocol.ClientTypeHost,
		SessionName: cfg.SessionName,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		conn.Close()
		return nil, err
	}

	return &HostSession{SessionID: resp.SessionID, conn: conn, r: r}, nil
}

// SendFrame relays one opaque payload to all current viewers.
func (h *HostSession) SendFrame(payload []byte) error {
	return protocol.WriteFrame(h.conn, payload)
}

// ReadControl reads viewer-originated control bytes. The stream is opaque
// and unframed; ordering across viewers is not defined.
func (h *HostSession) ReadControl(buf []byte) (int, error) {
	return h.r.Read(buf)
}

func (h *HostSession) Close() error {
	return h.conn.Close()
}

// ViewerSession is an authenticated viewer connection attached to an
// existing session.
type ViewerSession struct {
	SessionID string

	conn net.Conn
	r    io.Reader
}

// View dials the relay and attaches to the session with the given id.
// Returns apperrors.ErrSessionNotFound when the id does not resolve.
func View(cfg Config, sessionID string) (*ViewerSession, error) {
	conn, err := cfg.dial()
	if err != nil {
		return nil, err
	}

	resp, r, err := handshake(conn, protocol.AuthRequest{
		Type:       "auth",
		Username:   cfg.Username,
		Password:   cfg.Password,
		ClientType: protocol.ClientTypeViewer,
		SessionID:  sessionID,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		conn.Close()
		return nil, err
	}

	return &ViewerSession{SessionID: sessionID, conn: conn, r: r}, nil
}

// NextFrame blocks until the host's next frame arrives and returns its
// payload. io.EOF means the session ended.
func (v *ViewerSession) NextFrame() ([]byte, error) {
	return protocol.ReadFrame(v.r)
}

// SendControl pushes opaque bytes back to the host (e.g. clipboard text).
// The relay drops them silently if the host is unreachable.
func (v *ViewerSession) SendControl(b []byte) error {
	if _, err := v.conn.Write(b); err != nil {
		return fmt.Errorf("send control: %w", err)
	}
	return nil
}

func (v *ViewerSession) Close() error {
	return v.conn.Close()
}
