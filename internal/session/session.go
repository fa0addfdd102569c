// Package session holds the bearer credential for the authenticated
// user. The credential is an opaque string issued by the backend on
// login or signup; it lives in a file so it survives client restarts
// and is cleared on logout or a server-reported 401.
package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"storefront/internal/util"

	"go.uber.org/zap"
)

// Session is the single owner of the bearer credential. It is passed
// by reference into the API client instead of being looked up from
// ambient global state. All methods are safe for concurrent use:
// deletion on a 401 may race with reads from in-flight requests.
type Session struct {
	mu    sync.RWMutex
	token string
	path  string // empty means memory-only (tests)
	log   *zap.Logger
}

// New creates a session backed by the given token file. A previously
// stored credential is loaded if the file exists; a missing or
// unreadable file simply yields an unauthenticated session.
func New(path string) *Session {
	s := &Session{path: path, log: util.GetLogger()}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err == nil {
		s.token = strings.TrimSpace(string(data))
	}
	return s
}

// NewInMemory creates a session with no durable backing.
func NewInMemory() *Session {
	return New("")
}

// Token returns the stored credential and whether one is present.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Authenticated reports whether a credential is stored.
func (s *Session) Authenticated() bool {
	_, ok := s.Token()
	return ok
}

// Set stores a freshly issued credential and persists it.
func (s *Session) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if s.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.log.Warn("Failed to create token directory", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.path, []byte(token), 0o600); err != nil {
		s.log.Warn("Failed to persist token", zap.Error(err))
	}
}

// Clear invalidates the session, removing the stored credential.
// Called on explicit logout and whenever the server answers 401.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" && s.path == "" {
		return
	}
	s.token = ""
	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("Failed to remove token file", zap.Error(err))
		}
	}
}
