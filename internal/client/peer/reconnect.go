package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	apperrors "screenrelay/internal/errors"
)

// ReconnectConfig holds reconnection parameters
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 = infinite
}

// DefaultReconnectConfig returns sensible defaults for reconnection
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  0, // Infinite
	}
}

// HostWithReconnect runs a host session with automatic reconnection on
// transient failure. Each successful reconnect is a brand new session with
// a new id — the relay keeps no continuity across a host's network blip —
// so run is invoked again with the fresh session. Authentication failures
// are not transient and stop the loop immediately.
func HostWithReconnect(ctx context.Context, cfg Config, rc *ReconnectConfig, run func(*HostSession) error) error {
	if rc == nil {
		rc = DefaultReconnectConfig()
	}

	attempt := 0
	delay := rc.InitialDelay

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		attempt++

		if rc.MaxAttempts > 0 && attempt > rc.MaxAttempts {
			return fmt.Errorf("max reconnection attempts (%d) exceeded", rc.MaxAttempts)
		}

		// Wait before reconnecting (except first attempt)
		if attempt > 1 {
			log.Printf("Reconnecting in %v (attempt %d)...", delay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		sess, err := Host(cfg)
		if err != nil {
			if errors.Is(err, apperrors.ErrAuthFailed) {
				return err
			}

			log.Printf("Connection failed: %v", err)

			// Exponential backoff
			delay = time.Duration(float64(delay) * rc.Multiplier)
			if delay > rc.MaxDelay {
				delay = rc.MaxDelay
			}
			continue
		}

		err = run(sess)
		sess.Close()
		if err == nil {
			return nil
		}
		log.Printf("Session ended: %v, will reconnect...", err)

		// Reset backoff after a session that actually ran
		attempt = 0
		delay = rc.InitialDelay
	}
}
