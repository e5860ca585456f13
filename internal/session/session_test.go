package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/foxzi/backoffice/internal/access"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestNewFromLoginResponse(t *testing.T) {
	s, err := New("opaque-token", "Admin", "alice", "64a1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Role != access.RoleAdmin || s.Username != "alice" || s.UserID != "64a1" {
		t.Errorf("New() = %+v", s)
	}
	if s.ExpiresAt != nil {
		t.Error("opaque token should carry no expiry")
	}
}

func TestNewFillsFromClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"role":     "EditMode",
		"username": "bob",
		"id":       "64b2",
		"exp":      exp.Unix(),
	})

	s, err := New(token, "", "", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Role != access.RoleEditMode {
		t.Errorf("Role = %v, want EditMode", s.Role)
	}
	if s.Username != "bob" || s.UserID != "64b2" {
		t.Errorf("identity = %q/%q", s.Username, s.UserID)
	}
	if s.ExpiresAt == nil || !s.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
	if s.Expired(time.Now()) {
		t.Error("session should not be expired yet")
	}
	if !s.Expired(exp.Add(time.Second)) {
		t.Error("session should be expired after exp")
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New("", "Admin", "a", "1"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("empty token error = %v", err)
	}
	if _, err := New("tok", "Root", "a", "1"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("unknown role error = %v", err)
	}
}

func TestBoltStore(t *testing.T) {
	db, err := OpenBolt(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	a := db.Store("browser-a")
	b := db.Store("browser-b")

	got, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Fatal("Load() on empty store should return nil")
	}

	if err := a.Save(ctx, &Session{Token: "t-a", Role: access.RoleAdmin, Username: "alice"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := b.Save(ctx, &Session{Token: "t-b", Role: access.RoleViewMode}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, _ = a.Load(ctx)
	if got == nil || got.Token != "t-a" || got.Username != "alice" {
		t.Errorf("Load(a) = %+v", got)
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, _ = a.Load(ctx)
	if got != nil {
		t.Error("Load() after Clear should return nil")
	}
	got, _ = b.Load(ctx)
	if got == nil || got.Token != "t-b" {
		t.Error("clearing one slot must not touch another")
	}
}

func TestBoltPurge(t *testing.T) {
	db, err := OpenBolt(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	db.Store("live").Save(ctx, &Session{Token: "1", Role: access.RoleAdmin})
	db.Store("expired").Save(ctx, &Session{Token: "2", Role: access.RoleAdmin, ExpiresAt: &past})

	n, err := db.Purge(time.Now().Add(-24*time.Hour), true)
	if err != nil {
		t.Fatalf("Purge(dry) error = %v", err)
	}
	if n != 1 {
		t.Errorf("Purge(dry) = %d, want 1", n)
	}
	if count, _ := db.Count(); count != 2 {
		t.Errorf("dry run deleted sessions, count = %d", count)
	}

	n, err = db.Purge(time.Now().Add(-24*time.Hour), false)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Purge() = %d, want 1", n)
	}
	if count, _ := db.Count(); count != 1 {
		t.Errorf("Count() after purge = %d, want 1", count)
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	s := &Session{Token: "x", Role: access.RoleAdmin}
	store.Save(ctx, s)
	s.Token = "mutated"

	got, _ := store.Load(ctx)
	if got.Token != "x" {
		t.Errorf("Load().Token = %q, store must keep its own copy", got.Token)
	}
}
