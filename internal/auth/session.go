package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"taskcal/internal/config"
)

// ErrNoSession is returned by Session.Token when nobody is logged in.
var ErrNoSession = errors.New("auth: no session")

type sessionFile struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}

// Session holds the backend access token and persists it to a file. It is
// an oauth2.TokenSource, so API clients pick up logins without restarts.
type Session struct {
	mu   sync.RWMutex
	path string
	tok  *oauth2.Token
}

// OpenSession loads the session stored at path. A missing file is an empty
// session; an empty path keeps the session in memory only.
func OpenSession(path string) (*Session, error) {
	s := &Session{path: path}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read session: %w", err)
	}
	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("auth: decode session %s: %w", path, err)
	}
	if f.AccessToken != "" {
		s.tok = &oauth2.Token{AccessToken: f.AccessToken, TokenType: f.TokenType, Expiry: f.Expiry}
	}
	return s, nil
}

// Token implements oauth2.TokenSource.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tok == nil || !s.tok.Valid() {
		return nil, ErrNoSession
	}
	cp := *s.tok
	return &cp, nil
}

func (s *Session) Authenticated() bool {
	_, err := s.Token()
	return err == nil
}

// Set stores tok and writes it to disk.
func (s *Session) Set(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("auth: empty token")
	}
	s.mu.Lock()
	cp := *tok
	s.tok = &cp
	s.mu.Unlock()
	return s.persist(&sessionFile{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Expiry:      tok.Expiry,
		SavedAt:     time.Now().UTC(),
	})
}

// SetAccessToken is Set for a bare bearer token.
func (s *Session) SetAccessToken(token string) error {
	return s.Set(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// Clear forgets the token and removes the session file.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.tok = nil
	s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("auth: remove session: %w", err)
	}
	return nil
}

func (s *Session) persist(f *sessionFile) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := config.WriteFileAtomic(s.path, data, ".taskcal-session-*.tmp"); err != nil {
		return fmt.Errorf("auth: write session: %w", err)
	}
	return nil
}
