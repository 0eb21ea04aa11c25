package relay

import (
	"errors"
	"io"
	"log"
	"net"
	"time"

	"screenrelay/internal/obs"
	"screenrelay/internal/sentry"
	"screenrelay/pkg/protocol"
)

// serveHost runs the source relay for a session: it reads length-prefixed
// frames from the host connection strictly sequentially and fans each one
// out to a snapshot of the viewer set. A failed viewer write drops only
// that viewer; a failed host read ends the whole session. Returns when the
// host connection is done.
//
// r wraps the host connection and may carry bytes buffered during the
// handshake.
func (s *Server) serveHost(sess *Session, r io.Reader) {
	defer s.terminateSession(sess.ID, "host disconnected")

	for {
		payload, err := protocol.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				obs.ErrorsTotal.WithLabelValues("protocol_violation").Inc()
				log.Printf("Session %s: oversized frame from host %s, ending session", sess.ID, sess.HostUsername)
				return
			}
			obs.ErrorsTotal.WithLabelValues("host_read").Inc()
			sentry.CaptureErrorf(err, "session %s: host read failed", sess.ID)
			return
		}

		sess.Touch()
		obs.FramesRelayedTotal.Inc()
		obs.FrameBytesTotal.Add(float64(len(payload)))

		// The identical header+payload bytes go to every viewer. The
		// snapshot is taken under the session lock; writes happen after
		// it is released.
		buf := protocol.EncodeFrame(payload)
		for _, viewer := range sess.SnapshotViewers() {
			if err := s.writeToViewer(viewer, buf); err != nil {
				s.dropViewer(sess, viewer, err)
			}
		}
	}
}

// writeToViewer writes one frame with a bounded deadline so a stalled
// viewer cannot block the fan-out loop.
func (s *Server) writeToViewer(viewer net.Conn, buf []byte) error {
	if err := viewer.SetWriteDeadline(time.Now().Add(s.ViewerWriteTimeout)); err != nil {
		return err
	}
	if _, err := viewer.Write(buf); err != nil {
		return err
	}
	return viewer.SetWriteDeadline(time.Time{})
}

// dropViewer detaches a viewer whose write failed or timed out and closes
// its connection. Delivery to the remaining viewers continues regardless.
func (s *Server) dropViewer(sess *Session, viewer net.Conn, err error) {
	s.Registry.DetachViewer(sess.ID, viewer)
	viewer.Close()
	obs.ViewersDroppedTotal.Inc()
	obs.ErrorsTotal.WithLabelValues("viewer_write").Inc()
	log.Printf("Session %s: dropped viewer %s: %v", sess.ID, viewer.RemoteAddr(), err)
}

// serveViewer runs the sink relay for one viewer: any bytes it sends are
// forwarded verbatim to the currently bound host connection. When no host
// is reachable the bytes are dropped, not queued. A read failure detaches
// only this viewer. Returns when the viewer connection is done.
func (s *Server) serveViewer(sess *Session, conn net.Conn) {
	defer s.Registry.DetachViewer(sess.ID, conn)

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := sess.ForwardToHost(buf[:n], s.ViewerWriteTimeout); werr != nil {
				// Dropped. The host's own read loop decides whether
				// the session is dead.
				obs.ErrorsTotal.WithLabelValues("sink_write").Inc()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				obs.ErrorsTotal.WithLabelValues("viewer_read").Inc()
			}
			return
		}
	}
}

// terminateSession runs the exactly-once teardown for a session: capture
// and close all attached connections, persist the closed record, update
// metrics. Safe to call from the host loop, the reaper and shutdown
// concurrently; only the first caller does any work.
func (s *Server) terminateSession(id, reason string) {
	state, ok := s.Registry.EndSession(id)
	if !ok {
		return
	}

	if state.Host != nil {
		state.Host.Close()
	}
	for _, viewer := range state.Viewers {
		viewer.Close()
	}

	if s.Store != nil {
		if err := s.Store.CloseSessionRecord(id, state.LastActivity); err != nil {
			sentry.CaptureErrorf(err, "session %s: failed to close session record", id)
		}
	}

	obs.SessionDurationSeconds.Observe(time.Since(state.CreatedAt).Seconds())
	log.Printf("Session %s ended (%s), %d viewer(s) closed", id, reason, len(state.Viewers))
}
