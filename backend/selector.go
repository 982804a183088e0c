package backend

import (
	"strings"
	"sync"
)

// Session holds the credential of the current user. An empty credential
// means the user is anonymous.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession creates a session, signed in when token is non-empty.
func NewSession(token string) *Session {
	return &Session{token: strings.TrimSpace(token)}
}

// Credential returns the current credential or "".
func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SignIn replaces the credential.
func (s *Session) SignIn(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

// SignOut clears the credential.
func (s *Session) SignOut() {
	s.SignIn("")
}

// Selector routes each call to the remote backend while a credential is
// present and to the local backend otherwise. The choice is made per call,
// so signing in or out takes effect on the next operation.
type Selector struct {
	creds  CredentialSource
	local  Backend
	remote Backend
}

// NewSelector creates a selector over the two backends.
func NewSelector(creds CredentialSource, local, remote Backend) *Selector {
	if creds == nil || local == nil || remote == nil {
		panic("backend.NewSelector: nil dependency")
	}
	return &Selector{creds: creds, local: local, remote: remote}
}

// Select returns the backend for the current session and its mode.
func (s *Selector) Select() (Backend, Mode) {
	if s.creds.Credential() != "" {
		return s.remote, ModeRemote
	}
	return s.local, ModeLocal
}
