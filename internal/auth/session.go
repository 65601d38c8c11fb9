// Package auth keeps the operator's session state: the persisted
// bearer token, the identity and expiry read from it, and the explicit
// offline switch. The sync gate consumes snapshots of this state; it
// never owns it.
package auth

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"field-sync-service/internal/logger"
)

// Snapshot is the point-in-time session view handed to callers.
// Initialized means the session subsystem finished loading, which is
// not the same as anyone being logged in.
type Snapshot struct {
	User          string `json:"user,omitempty"`
	Authenticated bool   `json:"authenticated"`
	IsInitialized bool   `json:"is_initialized"`
	IsOffline     bool   `json:"is_offline"`
}

type Session struct {
	mu          sync.RWMutex
	tokenPath   string
	token       string
	user        string
	expiresAt   time.Time
	initialized bool
	offline     bool
}

func NewSession(tokenPath string) *Session {
	return &Session{tokenPath: tokenPath}
}

// Load restores a persisted token if one exists. The session counts as
// initialized either way.
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true

	raw, err := os.ReadFile(s.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}
	s.applyToken(strings.TrimSpace(string(raw)))
	return nil
}

// SetToken installs a fresh bearer token (the UI shell calls this
// after login) and persists it. An empty token logs the operator out.
func (s *Session) SetToken(token string) error {
	token = strings.TrimSpace(token)

	s.mu.Lock()
	s.applyToken(token)
	s.mu.Unlock()

	if token == "" {
		if err := os.Remove(s.tokenPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.WriteFile(s.tokenPath, []byte(token), 0o600)
}

// SetOffline flips the operator's explicit offline switch. While set,
// no sync runs regardless of actual connectivity.
func (s *Session) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Token implements the transport's token source.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authenticated := s.user != "" &&
		(s.expiresAt.IsZero() || time.Now().Before(s.expiresAt))

	return Snapshot{
		User:          s.user,
		Authenticated: authenticated,
		IsInitialized: s.initialized,
		IsOffline:     s.offline,
	}
}

// applyToken derives identity and expiry from the JWT claims. The
// signature is the server's to verify; the client only reads. A token
// that does not parse leaves the session unauthenticated. Caller holds
// the lock.
func (s *Session) applyToken(token string) {
	s.token = token
	s.user = ""
	s.expiresAt = time.Time{}

	if token == "" {
		return
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		logger.Log.Warn("Could not parse session token", zap.Error(err))
		return
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		s.user = sub
	} else if name, ok := claims["username"].(string); ok {
		s.user = name
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.expiresAt = exp.Time
	}
}
