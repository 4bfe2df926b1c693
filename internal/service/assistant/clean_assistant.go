package assistant

import (
	"context"
	"time"
)

const (
	DefaultSessionTTL          = time.Hour
	DefaultSessionReapInterval = 5 * time.Minute
)

// StartSessionReaper removes idle sessions until ctx is done.
func (s *Service) StartSessionReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSessionReapInterval
	}
	go s.reapLoop(ctx, interval)
}

func (s *Service) reapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.reapIdleSessions(); n > 0 {
				s.logger.Infof("reaped %d idle sessions", n)
			}
		}
	}
}

// reapIdleSessions deletes sessions with no activity for longer than the session TTL.
// Sessions waiting on a reply are kept.
func (s *Service) reapIdleSessions() int {
	cutoff := s.now().UTC().Add(-s.sessionTTL)

	s.mu.RLock()
	var expired []string
	for id, session := range s.sessions {
		if session.idleSince(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if err := s.DeleteSession(id); err == nil {
			removed++
		}
	}
	return removed
}
