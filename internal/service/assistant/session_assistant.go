package assistant

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"foliochat/internal/models"
)

// CreateSession starts a conversation seeded with the greeting and probes the default
// configuration once.
func (s *Service) CreateSession(locale string) (*Session, error) {
	if !IsSupportedLocale(locale) {
		locale = s.defaultLocale
	}
	session := newSession(uuid.NewString(), locale, s.defaultConfig, s.now)

	s.mu.Lock()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s.sessions[session.id] = session
	count := len(s.sessions)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"session": session.id, "locale": locale, "active": count}).Info("session created")
	cfg, generation := session.store.Current()
	s.scheduleProbe(session, cfg, generation)
	return session, nil
}

// Session returns a live session and marks it as active.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.touch()
	return session, nil
}

// Snapshot returns the current view of a session.
func (s *Service) Snapshot(id string) (models.Snapshot, error) {
	session, err := s.Session(id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// DeleteSession drops a session and its queued jobs.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.executor.Cancel(id)
	session.close()
	if s.onClosed != nil {
		s.onClosed(id)
	}
	s.logger.WithField("session", id).Info("session deleted")
	return nil
}

func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
