package relay

import (
	"errors"
	"net"
	"sync"
	"testing"

	apperrors "screenrelay/internal/errors"
)

// pipeConn returns a connection handle for registry tests. Both ends are
// closed on cleanup.
func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a
}

func TestCreateSession_ConcurrentIDsDistinct(t *testing.T) {
	reg := NewRegistry()

	const n = 100
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- reg.CreateSession("alice", "concurrent").ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct sessions, got %d", n, len(seen))
	}
	if got := len(reg.Snapshot()); got != n {
		t.Errorf("expected %d sessions in snapshot, got %d", n, got)
	}
}

func TestAttachHost_Conflict(t *testing.T) {
	reg := NewRegistry()
	sess := reg.CreateSession("alice", "s")

	if err := reg.AttachHost(sess.ID, pipeConn(t)); err != nil {
		t.Fatalf("first AttachHost failed: %v", err)
	}

	err := reg.AttachHost(sess.ID, pipeConn(t))
	if !errors.Is(err, apperrors.ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict for second host, got %v", err)
	}
}

func TestAttachViewer_UnknownSession(t *testing.T) {
	reg := NewRegistry()

	err := reg.AttachViewer("does-not-exist", pipeConn(t))
	if !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if got := len(reg.Snapshot()); got != 0 {
		t.Errorf("failed attach must not mutate the registry, snapshot has %d", got)
	}
}

func TestDetachViewer_Idempotent(t *testing.T) {
	reg := NewRegistry()
	sess := reg.CreateSession("alice", "s")
	conn := pipeConn(t)

	if err := reg.AttachViewer(sess.ID, conn); err != nil {
		t.Fatalf("AttachViewer: %v", err)
	}

	// Detach twice (read-failure path and explicit leave racing), then
	// once more against a session that no longer exists.
	reg.DetachViewer(sess.ID, conn)
	reg.DetachViewer(sess.ID, conn)
	reg.EndSession(sess.ID)
	reg.DetachViewer(sess.ID, conn)

	if got := len(reg.Snapshot()); got != 0 {
		t.Errorf("expected empty registry, got %d sessions", got)
	}
}

func TestEndSession_ExactlyOnce(t *testing.T) {
	reg := NewRegistry()
	sess := reg.CreateSession("alice", "s")

	host := pipeConn(t)
	if err := reg.AttachHost(sess.ID, host); err != nil {
		t.Fatalf("AttachHost: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := reg.AttachViewer(sess.ID, pipeConn(t)); err != nil {
			t.Fatalf("AttachViewer: %v", err)
		}
	}

	// Many concurrent enders; exactly one must capture the handles.
	const n = 8
	captured := make(chan EndState, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if state, ok := reg.EndSession(sess.ID); ok {
				captured <- state
			}
		}()
	}
	wg.Wait()
	close(captured)

	var states []EndState
	for state := range captured {
		states = append(states, state)
	}
	if len(states) != 1 {
		t.Fatalf("expected exactly one capture, got %d", len(states))
	}
	if states[0].Host != host {
		t.Error("captured host connection does not match attached host")
	}
	if len(states[0].Viewers) != 3 {
		t.Errorf("expected 3 captured viewers, got %d", len(states[0].Viewers))
	}

	// The id must never resolve again.
	if _, ok := reg.Get(sess.ID); ok {
		t.Error("ended session id still resolves")
	}
	err := reg.AttachViewer(sess.ID, pipeConn(t))
	if !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Errorf("attach to ended session: expected ErrSessionNotFound, got %v", err)
	}
}

func TestSnapshot_ReportsViewerCounts(t *testing.T) {
	reg := NewRegistry()
	sess := reg.CreateSession("alice", "Session by alice")
	for i := 0; i < 2; i++ {
		if err := reg.AttachViewer(sess.ID, pipeConn(t)); err != nil {
			t.Fatalf("AttachViewer: %v", err)
		}
	}

	snap := reg.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(snap))
	}
	got := snap[0]
	if got.ID != sess.ID || got.Host != "alice" || got.Viewers != 2 {
		t.Errorf("unexpected summary: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.LastActivity.IsZero() {
		t.Error("summary timestamps should be set")
	}
}
