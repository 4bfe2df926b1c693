package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Service issues, validates, and revokes chat session tokens.
type Service struct {
	store          TokenStore
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	queryName      string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(store TokenStore, ttl time.Duration) *Service {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		store:          store,
		tokenTTL:       ttl,
		cookieName:     "chat_token",
		headerName:     "Authorization",
		queryName:      "token",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// IssueToken mints a new random token bound to the session.
func (s *Service) IssueToken(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("invalid session id")
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, token, sessionID, s.tokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken returns the session id the token was issued for. A valid token lives for
// another TTL from now.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", ErrTokenRequired
	}
	sessionID, err := s.store.Lookup(ctx, authToken, s.tokenTTL)
	if errors.Is(err, errTokenNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	return s.store.Delete(ctx, authToken)
}

// RevokeSession deletes every token issued for the session.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, sessionID)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing session tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
