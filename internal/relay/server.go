package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	apperrors "screenrelay/internal/errors"
	"screenrelay/internal/models"
	"screenrelay/internal/obs"
	"screenrelay/internal/sentry"
	"screenrelay/internal/storage"
	"screenrelay/pkg/protocol"
)

// Server is the relay's connection dispatcher. It accepts raw peer
// connections, runs the authentication handshake, classifies the caller as
// host or viewer and hands the connection to the relay engine bound to the
// right session.
type Server struct {
	Registry *Registry
	Store    storage.Store
	Port     string
	// TLSConfig wraps the listener when set; the relay itself treats the
	// connection as an opaque ordered byte stream either way.
	TLSConfig *tls.Config

	// MaxConnections limits concurrent connections (0 = unlimited).
	MaxConnections int
	// AuthTimeout bounds the handshake so a stalled connection cannot
	// hold a slot indefinitely.
	AuthTimeout time.Duration
	// ViewerWriteTimeout bounds each per-viewer frame write; a viewer
	// that cannot keep up is dropped as if disconnected.
	ViewerWriteTimeout time.Duration
	// SessionIdleTimeout is how long a session may go without relaying a
	// frame before the reaper ends it. Zero disables the reaper.
	SessionIdleTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	connSem  chan struct{}
}

const (
	defaultAuthTimeout        = 10 * time.Second
	defaultViewerWriteTimeout = 5 * time.Second
	defaultSessionIdleTimeout = 30 * time.Minute
)

func NewServer(port string, registry *Registry, store storage.Store, tlsConfig *tls.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Registry:           registry,
		Store:              store,
		Port:               port,
		TLSConfig:          tlsConfig,
		ctx:                ctx,
		cancel:             cancel,
		MaxConnections:     1000,
		AuthTimeout:        defaultAuthTimeout,
		ViewerWriteTimeout: defaultViewerWriteTimeout,
		SessionIdleTimeout: defaultSessionIdleTimeout,
	}
}

func (s *Server) Start() error {
	var err error

	if s.TLSConfig != nil {
		s.listener, err = tls.Listen("tcp", s.Port, s.TLSConfig)
	} else {
		s.listener, err = net.Listen("tcp", s.Port)
	}

	if err != nil {
		return err
	}

	if s.MaxConnections > 0 {
		s.connSem = make(chan struct{}, s.MaxConnections)
	}

	if s.SessionIdleTimeout > 0 {
		s.wg.Add(1)
		go s.runReaper()
	}

	log.Printf("Relay listening on %s (TLS=%v, MaxConn=%d)", s.Port, s.TLSConfig != nil, s.MaxConnections)

	for {
		// Check if we're shutting down
		select {
		case <-s.ctx.Done():
			log.Println("Relay: shutdown signal received, stopping accept loop")
			return nil
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			// Check if this is a shutdown-related error
			if s.ctx.Err() != nil {
				log.Println("Relay: listener closed during shutdown")
				return nil
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Printf("Temporary accept error: %v, retrying...", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}

			// Permanent error
			log.Printf("Failed to accept connection: %v", err)
			return err
		}

		// Acquire semaphore slot (rate limiting)
		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
				// Got slot, proceed
			case <-s.ctx.Done():
				conn.Close()
				return nil
			}
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				if s.connSem != nil {
					<-s.connSem // Release semaphore slot
				}
			}()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Panic recovered in handleConnection: %v", r)
				}
			}()
			s.handleConnection(c)
		}(conn)
	}
}

// Addr returns the listener address, useful when Port was ":0".
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server. It closes the listener, ends every
// active session so relay loops unblock, waits for connection goroutines to
// finish, and respects the provided context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Relay: initiating shutdown...")

	// Signal all goroutines to stop
	s.cancel()

	// Close listener to stop accepting new connections
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			log.Printf("Error closing listener: %v", err)
		}
	}

	// Ending sessions closes their connections, which unblocks the
	// relay read loops.
	for _, summary := range s.Registry.Snapshot() {
		s.terminateSession(summary.ID, "server shutdown")
	}

	// Wait for active connections with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Relay: all connections closed gracefully")
		return nil
	case <-ctx.Done():
		log.Println("Relay: shutdown timeout, forcing close")
		return ctx.Err()
	}
}

// handleConnection drives one peer connection through the state machine
// Connected → Authenticating → {HostBound | ViewerBound} → Closed. The
// relay loop runs synchronously here; when it returns the connection is
// closed and role-specific detach side effects have already run.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	log.Printf("New connection from %s", conn.RemoteAddr())

	req, buffered, err := s.readAuthRequest(conn)
	if err != nil {
		obs.ErrorsTotal.WithLabelValues("protocol_violation").Inc()
		s.respond(conn, protocol.AuthResponse{Status: protocol.StatusProtocolError, Error: "malformed authentication message"})
		sentry.CaptureErrorf(err, "handshake with %s failed", conn.RemoteAddr())
		return
	}

	user, err := s.Store.Authenticate(req.Username, req.Password)
	if err != nil {
		// Wrong password, unknown user and inactive account all look
		// identical on the wire.
		obs.ErrorsTotal.WithLabelValues("auth_failed").Inc()
		s.respond(conn, protocol.AuthResponse{Status: protocol.StatusAuthFailed})
		log.Printf("Authentication failed for %s", conn.RemoteAddr())
		return
	}
	log.Printf("User %s authenticated from %s (%s)", user.Username, conn.RemoteAddr(), req.ClientType)

	switch req.ClientType {
	case protocol.ClientTypeHost:
		s.handleHost(conn, buffered, user, req.SessionName)
	case protocol.ClientTypeViewer:
		s.handleViewer(conn, user, req.SessionID)
	default:
		obs.ErrorsTotal.WithLabelValues("protocol_violation").Inc()
		s.respond(conn, protocol.AuthResponse{Status: protocol.StatusProtocolError, Error: "unknown client type"})
	}
}

// readAuthRequest reads exactly one authentication message under the auth
// deadline. It returns a reader carrying any stream bytes the JSON decoder
// buffered past the message, so no relay traffic is lost.
func (s *Server) readAuthRequest(conn net.Conn) (protocol.AuthRequest, io.Reader, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.AuthTimeout)); err != nil {
		return protocol.AuthRequest{}, nil, fmt.Errorf("set auth deadline: %w", err)
	}

	decoder := json.NewDecoder(io.LimitReader(conn, 4096))
	var req protocol.AuthRequest
	if err := decoder.Decode(&req); err != nil {
		return protocol.AuthRequest{}, nil, fmt.Errorf("decode auth request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return protocol.AuthRequest{}, nil, fmt.Errorf("clear auth deadline: %w", err)
	}

	if req.Type != "auth" {
		return protocol.AuthRequest{}, nil, fmt.Errorf("unexpected message type %q", req.Type)
	}
	if req.ClientType != protocol.ClientTypeHost && req.ClientType != protocol.ClientTypeViewer {
		return protocol.AuthRequest{}, nil, fmt.Errorf("unknown client type %q", req.ClientType)
	}

	return req, protocol.StreamAfter(decoder, conn), nil
}

// handleHost creates the session, binds the connection as its source and
// runs the source relay until the host goes away.
func (s *Server) handleHost(conn net.Conn, buffered io.Reader, user *models.User, name string) {
	if name == "" {
		name = fmt.Sprintf("Session by %s", user.Username)
	}
	sess := s.Registry.CreateSession(user.Username, name)

	if err := s.Registry.AttachHost(sess.ID, conn); err != nil {
		s.respond(conn, statusFor(err))
		s.terminateSession(sess.ID, "host attach failed")
		return
	}

	if s.Store != nil {
		rec := &models.SessionRecord{
			ID:             sess.ID,
			HostUsername:   sess.HostUsername,
			DisplayName:    sess.DisplayName,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.CreatedAt,
			IsActive:       true,
		}
		if err := s.Store.RecordSession(rec); err != nil {
			sentry.CaptureErrorf(err, "session %s: failed to persist record", sess.ID)
		}
	}

	if !s.respond(conn, protocol.AuthResponse{Status: protocol.StatusAuthSuccess, SessionID: sess.ID}) {
		s.terminateSession(sess.ID, "host gone before session start")
		return
	}

	log.Printf("Session %s created by %s", sess.ID, user.Username)
	s.serveHost(sess, buffered)
}

// handleViewer registers the connection as a fan-out target and runs the
// sink relay until the viewer goes away. The handshake response is written
// before the viewer joins the fan-out set, so no relayed frame can reach
// the wire ahead of it.
func (s *Server) handleViewer(conn net.Conn, user *models.User, sessionID string) {
	sess, ok := s.Registry.Get(sessionID)
	if !ok {
		obs.ErrorsTotal.WithLabelValues("session_not_found").Inc()
		s.respond(conn, protocol.AuthResponse{Status: protocol.StatusSessionNotFound})
		log.Printf("Viewer %s: session %q not found", user.Username, sessionID)
		return
	}

	if !s.respond(conn, protocol.AuthResponse{Status: protocol.StatusAuthSuccess}) {
		return
	}

	if err := s.Registry.AttachViewer(sessionID, conn); err != nil {
		// Session ended between the response and the attach. Closing the
		// connection tells the viewer the session is over, same as an end
		// right after a successful join.
		return
	}

	log.Printf("Viewer %s joined session %s", user.Username, sessionID)
	s.serveViewer(sess, conn)
}

// respond writes a handshake response; returns false if the peer is gone.
func (s *Server) respond(conn net.Conn, resp protocol.AuthResponse) bool {
	conn.SetWriteDeadline(time.Now().Add(s.AuthTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Printf("Failed to send response to %s: %v", conn.RemoteAddr(), err)
		return false
	}
	return true
}

// statusFor maps registry errors onto wire statuses.
func statusFor(err error) protocol.AuthResponse {
	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return protocol.AuthResponse{Status: protocol.StatusSessionNotFound}
	case errors.Is(err, apperrors.ErrSessionConflict):
		return protocol.AuthResponse{Status: protocol.StatusSessionConflict}
	default:
		return protocol.AuthResponse{Status: protocol.StatusProtocolError, Error: err.Error()}
	}
}
