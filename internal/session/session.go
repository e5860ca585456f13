package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/foxzi/backoffice/internal/access"
)

var ErrInvalidSession = errors.New("invalid session")

// Session is the signed-in operator as persisted between requests.
type Session struct {
	Token     string      `json:"token"`
	Role      access.Role `json:"role"`
	Username  string      `json:"username"`
	UserID    string      `json:"userId"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

// Expired reports whether the token's exp claim has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Store is the persistence capability for exactly one session. Load returns
// nil, nil when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// New builds a session from a login response. Missing identity fields are
// filled from the token's claims; the role must be one of access.Roles.
func New(token string, role, username, userID string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidSession)
	}

	claims := decodeClaims(token)
	if role == "" {
		role = claims.Role
	}
	if username == "" {
		username = claims.Username
	}
	if userID == "" {
		userID = claims.UserID
	}

	r, err := access.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	return &Session{
		Token:     token,
		Role:      r,
		Username:  username,
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

type tokenClaims struct {
	Role      string
	Username  string
	UserID    string
	ExpiresAt *time.Time
}

// decodeClaims reads identity claims without verifying the signature; the
// console never holds the signing key and the backend re-validates every
// request. Opaque tokens yield empty claims.
func decodeClaims(token string) tokenClaims {
	var out tokenClaims

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return out
	}

	out.Role = stringClaim(claims, "role")
	out.Username = stringClaim(claims, "username", "name", "email")
	out.UserID = stringClaim(claims, "userId", "id", "_id", "sub")

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		out.ExpiresAt = &t
	}
	return out
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// MemoryStore keeps a session in memory.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

func NewMemoryStore(s *Session) *MemoryStore {
	return &MemoryStore{session: s}
}

func (m *MemoryStore) Load(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidSession)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.session = &cp
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
