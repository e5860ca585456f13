package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/session"
	"github.com/foxzi/backoffice/internal/web/workspace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestLoggerPassesStatus(t *testing.T) {
	h := Logger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}

type sessionsFixture struct {
	db       *session.BoltDB
	registry *workspace.Registry
	handler  http.Handler
	seen     *Console
}

func newSessionsFixture(t *testing.T) *sessionsFixture {
	t.Helper()
	db, err := session.OpenBolt(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &sessionsFixture{
		db:       db,
		registry: workspace.NewRegistry(time.Hour, discardLogger()),
	}
	client := backend.NewClient("http://backend.invalid", nil)
	opts := CookieOptions{Name: "sid", TTL: time.Hour}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	f.handler = Sessions(opts, db, f.registry, client, discardLogger())(RequireSession(discardLogger())(inner))
	return f
}

func TestSessionsIssuesCookieAndRedirects(t *testing.T) {
	f := newSessionsFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("got %d %q, want redirect to /login", rec.Code, rec.Header().Get("Location"))
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}
	if _, err := uuid.Parse(cookies[0].Value); err != nil {
		t.Errorf("cookie value %q is not a uuid", cookies[0].Value)
	}
	if f.registry.Len() != 1 {
		t.Errorf("registry holds %d workspaces, want 1", f.registry.Len())
	}
}

func TestSessionsLoadsStoredSession(t *testing.T) {
	f := newSessionsFixture(t)

	id := uuid.NewString()
	sess := &session.Session{Token: "tok", Role: access.RoleAdmin, Username: "alice"}
	if err := f.db.Store(id).Save(context.Background(), sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if f.seen == nil || f.seen.ID != id || f.seen.Session.Username != "alice" {
		t.Fatalf("console = %+v", f.seen)
	}
	if f.seen.Workspace == nil || f.seen.Workspace.Client.Store() == nil {
		t.Errorf("workspace client is not bound to the session store")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Errorf("a valid cookie was reissued")
	}
}

func TestRequireSessionClearsExpiredToken(t *testing.T) {
	f := newSessionsFixture(t)

	id := uuid.NewString()
	past := time.Now().Add(-time.Minute)
	sess := &session.Session{Token: "tok", Role: access.RoleAdmin, Username: "alice", ExpiresAt: &past}
	store := f.db.Store(id)
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("expired session still stored: %+v", got)
	}
}
