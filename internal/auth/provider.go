// Package auth defines the credential/session collaborator consumed by the
// sync engine. The engine never performs authentication itself; it only asks
// for the current bearer credential and user id, and forwards authorization
// failures to Invalidate.
package auth

import "sync"

// Provider exposes the current session credentials.
type Provider interface {
	// Token returns the current bearer credential. ok is false when no
	// credential is available (logged out, expired and not yet refreshed).
	Token() (token string, ok bool)
	// UserID returns the id of the authenticated user.
	UserID() int64
	// Invalidate is the forwarding path for 401/403 responses. The host
	// application decides what invalidation means (re-login, refresh, ...).
	Invalidate()
}

// Static is a Provider with fixed credentials, used by the daemon and tests.
type Static struct {
	mu     sync.RWMutex
	token  string
	userID int64
	valid  bool
}

// NewStatic creates a static provider for the given credential and user.
func NewStatic(token string, userID int64) *Static {
	return &Static{token: token, userID: userID, valid: token != ""}
}

func (s *Static) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid {
		return "", false
	}
	return s.token, true
}

func (s *Static) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Static) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}
