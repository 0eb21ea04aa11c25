package relay

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "screenrelay/internal/errors"
	"screenrelay/internal/obs"
)

// Session is one live relay session: a single host connection feeding a set
// of viewer connections. Each session carries its own lock so mutations on
// one session never contend with another; the registry's lock is held only
// for insert/remove/lookup on the id map.
type Session struct {
	ID           string
	HostUsername string
	DisplayName  string
	CreatedAt    time.Time

	mu           sync.Mutex
	active       bool
	lastActivity time.Time
	host         net.Conn
	viewers      map[net.Conn]struct{}

	// sinkMu serializes viewer-originated writes to the host connection,
	// which share a single write deadline on that conn.
	sinkMu sync.Mutex
}

// SessionSummary is the snapshot shape returned to operational tooling.
type SessionSummary struct {
	ID           string    `json:"id"`
	Host         string    `json:"host"`
	DisplayName  string    `json:"display_name"`
	Viewers      int       `json:"viewers"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// EndState holds the handles captured by the active→inactive transition.
// The caller owns closing them.
type EndState struct {
	Host         net.Conn
	Viewers      []net.Conn
	CreatedAt    time.Time
	LastActivity time.Time
}

// Registry owns the session-id map. It is the single source of truth for
// whether a session id resolves.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// CreateSession inserts a fresh active session with no host or viewers
// bound yet and returns it. Ids are random UUIDs, so concurrent creations
// cannot collide or overwrite each other.
func (r *Registry) CreateSession(hostUsername, displayName string) *Session {
	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		HostUsername: hostUsername,
		DisplayName:  displayName,
		CreatedAt:    now,
		active:       true,
		lastActivity: now,
		viewers:      make(map[net.Conn]struct{}),
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	obs.ActiveSessions.Inc()
	return sess
}

// Get resolves a session id. Ended sessions are removed from the map, so a
// stale id simply does not resolve.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// AttachHost binds conn as the session's source. A session that already has
// a live host keeps it; the second host gets ErrSessionConflict.
func (r *Registry) AttachHost(id string, conn net.Conn) error {
	sess, ok := r.Get(id)
	if !ok {
		return apperrors.ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active {
		return apperrors.ErrSessionNotFound
	}
	if sess.host != nil {
		return apperrors.ErrSessionConflict
	}
	sess.host = conn
	return nil
}

// AttachViewer adds conn to the session's viewer set. Attaching to a
// session that disappeared concurrently is ErrSessionNotFound with no side
// effects.
func (r *Registry) AttachViewer(id string, conn net.Conn) error {
	sess, ok := r.Get(id)
	if !ok {
		return apperrors.ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active {
		return apperrors.ErrSessionNotFound
	}
	sess.viewers[conn] = struct{}{}
	obs.ActiveViewers.Inc()
	return nil
}

// DetachViewer removes conn from the session's viewer set. It is idempotent
// and never errors: the viewer may already be gone, and so may the session.
func (r *Registry) DetachViewer(id string, conn net.Conn) {
	sess, ok := r.Get(id)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, present := sess.viewers[conn]; present {
		delete(sess.viewers, conn)
		obs.ActiveViewers.Dec()
	}
}

// EndSession flips the session inactive, removes it from the map and
// captures the host and viewer handles for the caller to close. Only the
// active→inactive transition captures anything, so concurrent callers race
// safely: exactly one gets ok=true.
func (r *Registry) EndSession(id string) (EndState, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return EndState{}, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active {
		return EndState{}, false
	}
	sess.active = false

	state := EndState{
		Host:         sess.host,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.lastActivity,
		Viewers:      make([]net.Conn, 0, len(sess.viewers)),
	}
	for conn := range sess.viewers {
		state.Viewers = append(state.Viewers, conn)
	}
	sess.host = nil
	sess.viewers = make(map[net.Conn]struct{})

	obs.ActiveSessions.Dec()
	obs.ActiveViewers.Sub(float64(len(state.Viewers)))
	return state, true
}

// Snapshot returns a bounded copy of all active sessions for the directory
// API. Per-session locks are taken one at a time, never nested.
func (r *Registry) Snapshot() []SessionSummary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		if sess.active {
			summaries = append(summaries, SessionSummary{
				ID:           sess.ID,
				Host:         sess.HostUsername,
				DisplayName:  sess.DisplayName,
				Viewers:      len(sess.viewers),
				CreatedAt:    sess.CreatedAt,
				LastActivity: sess.lastActivity,
			})
		}
		sess.mu.Unlock()
	}
	return summaries
}

// Touch updates the session's last-activity timestamp. Called once per
// relayed frame.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recently relayed frame
// (or session creation when nothing has been relayed yet).
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// HostConn returns the currently bound host connection, or nil when the
// host is gone or the session has ended.
func (s *Session) HostConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	return s.host
}

// ForwardToHost writes sink bytes to the currently bound host connection
// under a bounded write deadline. Bytes are dropped without error when no
// host is reachable. Writes from concurrent viewer loops are serialized so
// one loop clearing the deadline cannot unbound another's in-flight write.
func (s *Session) ForwardToHost(b []byte, timeout time.Duration) error {
	host := s.HostConn()
	if host == nil {
		return nil
	}

	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	host.SetWriteDeadline(time.Now().Add(timeout))
	_, err := host.Write(b)
	host.SetWriteDeadline(time.Time{})
	return err
}

// SnapshotViewers copies the viewer set under the session lock and releases
// it before the caller writes, so one slow viewer can never block the map.
func (s *Session) SnapshotViewers() []net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	viewers := make([]net.Conn, 0, len(s.viewers))
	for conn := range s.viewers {
		viewers = append(viewers, conn)
	}
	return viewers
}
