package relay

import (
	"log"
	"time"

	"screenrelay/internal/obs"
)

// runReaper ends sessions whose host has silently vanished (e.g. a network
// partition with no TCP reset): any session that has not relayed a frame
// within SessionIdleTimeout is terminated through the same path as a host
// disconnect. Runs until server shutdown.
func (s *Server) runReaper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.SessionIdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			for _, summary := range s.Registry.Snapshot() {
				if now.Sub(summary.LastActivity) > s.SessionIdleTimeout {
					log.Printf("Session %s idle for %s, reaping", summary.ID, now.Sub(summary.LastActivity).Truncate(time.Second))
					obs.SessionsReapedTotal.Inc()
					s.terminateSession(summary.ID, "idle timeout")
				}
			}
		}
	}
}
