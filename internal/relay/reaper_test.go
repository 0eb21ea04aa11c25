package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// TestReaper_EndsIdleSessions runs the reaper against two sessions: one
// whose host keeps relaying and one that goes silent. Only the silent one
// is ended, its id stops resolving and its host connection is closed.
func TestReaper_EndsIdleSessions(t *testing.T) {
	reg := NewRegistry()
	srv := newEngineServer(reg)
	srv.SessionIdleTimeout = 200 * time.Millisecond
	srv.ctx, srv.cancel = context.WithCancel(context.Background())

	idle := reg.CreateSession("alice", "idle")
	idleClient, idleServer := net.Pipe()
	t.Cleanup(func() { idleClient.Close() })
	if err := reg.AttachHost(idle.ID, idleServer); err != nil {
		t.Fatalf("AttachHost idle: %v", err)
	}

	busy := reg.CreateSession("alice", "busy")

	// The busy session keeps relaying; each frame moves its activity clock.
	stopTouch := make(chan struct{})
	touchDone := make(chan struct{})
	go func() {
		defer close(touchDone)
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopTouch:
				return
			case <-ticker.C:
				busy.Touch()
			}
		}
	}()
	defer func() {
		close(stopTouch)
		<-touchDone
	}()

	srv.wg.Add(1)
	go srv.runReaper()
	defer func() {
		srv.cancel()
		srv.wg.Wait()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := reg.Get(idle.ID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle session was not reaped")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The idle session's host connection was closed by the teardown.
	idleServer.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := idleServer.Read(buf); !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, io.EOF) {
		t.Errorf("expected closed idle host connection, read error = %v", err)
	}

	// The busy session survived with a fresh activity clock.
	if _, ok := reg.Get(busy.ID); !ok {
		t.Fatal("active session was reaped")
	}
	if age := time.Since(busy.LastActivity()); age > srv.SessionIdleTimeout {
		t.Errorf("busy session activity clock is stale: %v", age)
	}

	reg.EndSession(busy.ID)
}
