package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/config"
)

// fakeBackend is an in-memory stand-in for the admin REST API.
type fakeBackend struct {
	mu           sync.Mutex
	accounts     map[string]backend.LoginResponse
	perms        map[access.Role]access.Permissions
	audit        []backend.AuditLogEntry
	admins       []backend.AdminSummary
	auditStatus  int
	unauthorized bool
	auditHits    int
	saved        map[access.Role]access.Permissions
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		accounts: map[string]backend.LoginResponse{
			"root":  {Token: "tok-root", Role: "SuperAdmin", Username: "root", UserID: "u0"},
			"alice": {Token: "tok-alice", Role: "Admin", Username: "alice", UserID: "u1"},
		},
		perms: map[access.Role]access.Permissions{
			access.RoleAdmin:    {Users: access.CRUD{Read: true}},
			access.RoleEditMode: {},
			access.RoleViewMode: {},
		},
		saved: map[access.Role]access.Permissions{},
	}
}

func (f *fakeBackend) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/api/admins/login" {
		var req backend.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		acc, ok := f.accounts[req.Username]
		if !ok || req.Password != "secret" {
			f.writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		f.writeJSON(w, http.StatusOK, acc)
		return
	}

	if f.unauthorized || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
		f.writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Token expired"})
		return
	}

	switch {
	case r.URL.Path == "/api/role-permissions" && r.Method == http.MethodGet:
		var sets []access.RolePermissionSet
		for _, role := range access.Roles {
			if p, ok := f.perms[role]; ok {
				sets = append(sets, access.RolePermissionSet{Role: role, Permissions: p})
			}
		}
		f.writeJSON(w, http.StatusOK, sets)
	case strings.HasPrefix(r.URL.Path, "/api/role-permissions/") && r.Method == http.MethodPut:
		role := access.Role(strings.TrimPrefix(r.URL.Path, "/api/role-permissions/"))
		var body struct {
			Permissions access.Permissions `json:"permissions"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.perms[role] = body.Permissions
		f.saved[role] = body.Permissions
		f.writeJSON(w, http.StatusOK, access.RolePermissionSet{Role: role, Permissions: body.Permissions})
	case r.URL.Path == "/api/audit-logs":
		f.auditHits++
		if f.auditStatus != 0 {
			f.writeJSON(w, f.auditStatus, map[string]string{"message": "boom"})
			return
		}
		f.writeJSON(w, http.StatusOK, backend.AuditLogPage{
			Logs:       f.audit,
			TotalItems: len(f.audit),
			TotalPages: 1,
		})
	case r.URL.Path == "/api/login-history":
		f.writeJSON(w, http.StatusOK, backend.LoginHistoryPage{TotalPages: 1})
	case r.URL.Path == "/api/admins":
		f.writeJSON(w, http.StatusOK, f.admins)
	case strings.HasPrefix(r.URL.Path, "/api/admins/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/admins/")
		for _, a := range f.admins {
			if a.ID == id {
				f.writeJSON(w, http.StatusOK, a)
				return
			}
		}
		f.writeJSON(w, http.StatusNotFound, map[string]string{"message": "Admin not found"})
	default:
		http.NotFound(w, r)
	}
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newTestConsole(t *testing.T, fb *fakeBackend) *browser {
	t.Helper()

	api := httptest.NewServer(fb)
	t.Cleanup(api.Close)

	cfg := &config.Config{
		Server:  config.ServerConfig{ListenAddr: "127.0.0.1:0", LoginRateLimit: 100},
		Backend: config.BackendConfig{BaseURL: api.URL, LoginPath: "/api/admins/login", Timeout: 5 * time.Second},
		Session: config.SessionConfig{
			Path:       filepath.Join(t.TempDir(), "sessions.db"),
			CookieName: "backoffice_session",
			TTL:        time.Hour,
		},
		Audit:   config.AuditConfig{PageSize: config.AuditPageSize, LookupConcurrency: 2, LookupWait: 2 * time.Second},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	console := httptest.NewServer(s.Handler())
	t.Cleanup(console.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &browser{
		t:    t,
		base: console.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) get(path string) (int, string, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	if err != nil {
		b.t.Fatalf("GET %s: %v", path, err)
	}
	return readResponse(b.t, resp)
}

func (b *browser) post(path string, form url.Values) (int, string, string) {
	b.t.Helper()
	resp, err := b.client.PostForm(b.base+path, form)
	if err != nil {
		b.t.Fatalf("POST %s: %v", path, err)
	}
	return readResponse(b.t, resp)
}

func readResponse(t *testing.T, resp *http.Response) (int, string, string) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, resp.Header.Get("Location"), string(body)
}

func (b *browser) login(username string) {
	b.t.Helper()
	status, loc, body := b.post("/login", url.Values{"username": {username}, "password": {"secret"}})
	if status != http.StatusSeeOther || loc != "/" {
		b.t.Fatalf("login %s: status=%d location=%q body=%s", username, status, loc, body)
	}
}

func TestHealth(t *testing.T) {
	b := newTestConsole(t, newFakeBackend())
	status, _, body := b.get("/healthz")
	if status != http.StatusOK || !strings.Contains(body, "ok") {
		t.Errorf("healthz = %d %q", status, body)
	}
}

func TestRequiresLogin(t *testing.T) {
	b := newTestConsole(t, newFakeBackend())
	for _, path := range []string{"/", "/users", "/audit", "/roles"} {
		status, loc, _ := b.get(path)
		if status != http.StatusSeeOther || loc != "/login" {
			t.Errorf("GET %s = %d %q, want redirect to /login", path, status, loc)
		}
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	b := newTestConsole(t, newFakeBackend())
	status, _, body := b.post("/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	if !strings.Contains(body, "Invalid username or password") {
		t.Errorf("body does not show the credentials error")
	}
}

func TestLoginAndDashboard(t *testing.T) {
	b := newTestConsole(t, newFakeBackend())
	b.login("alice")

	status, _, body := b.get("/")
	if status != http.StatusOK {
		t.Fatalf("dashboard status = %d", status)
	}
	if !strings.Contains(body, "Welcome, alice") {
		t.Errorf("dashboard does not greet the user")
	}
	if !strings.Contains(body, `class="card allowed"`) || !strings.Contains(body, `class="card denied"`) {
		t.Errorf("dashboard cards are not decided: %s", body)
	}
}

func TestAccessRestricted(t *testing.T) {
	fb := newFakeBackend()
	b := newTestConsole(t, fb)
	b.login("alice")

	status, _, body := b.get("/audit")
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}
	if !strings.Contains(body, access.RestrictedTitle) {
		t.Errorf("body does not show the restricted notice")
	}
	fb.mu.Lock()
	hits := fb.auditHits
	fb.mu.Unlock()
	if hits != 0 {
		t.Errorf("audit endpoint called %d times for a denied section", hits)
	}

	status, _, _ = b.get("/users")
	if status != http.StatusOK {
		t.Errorf("users status = %d, want 200", status)
	}
}

func TestExpiredSessionRedirectsToLogin(t *testing.T) {
	fb := newFakeBackend()
	b := newTestConsole(t, fb)
	b.login("alice")

	fb.mu.Lock()
	fb.unauthorized = true
	fb.mu.Unlock()

	status, loc, _ := b.get("/users")
	if status != http.StatusSeeOther || loc != "/login" {
		t.Fatalf("GET /users after 401 = %d %q", status, loc)
	}

	fb.mu.Lock()
	fb.unauthorized = false
	fb.mu.Unlock()

	status, loc, _ = b.get("/")
	if status != http.StatusSeeOther || loc != "/login" {
		t.Errorf("session survived a 401: GET / = %d %q", status, loc)
	}
}

func TestLogout(t *testing.T) {
	b := newTestConsole(t, newFakeBackend())
	b.login("alice")

	status, loc, _ := b.post("/logout", nil)
	if status != http.StatusSeeOther || loc != "/login" {
		t.Fatalf("logout = %d %q", status, loc)
	}
	status, loc, _ = b.get("/")
	if status != http.StatusSeeOther || loc != "/login" {
		t.Errorf("GET / after logout = %d %q", status, loc)
	}
}

func TestRolesSuperAdminReadOnly(t *testing.T) {
	b := newTestConsole(t, newFakeBackend())
	b.login("root")

	status, _, body := b.get("/roles")
	if status != http.StatusOK {
		t.Fatalf("roles status = %d", status)
	}
	if !strings.Contains(body, "Save changes") {
		t.Errorf("Admin matrix has no Save button")
	}

	status, loc, _ := b.get("/roles/SuperAdmin")
	if status != http.StatusSeeOther || loc != "/roles" {
		t.Fatalf("select SuperAdmin = %d %q", status, loc)
	}
	_, _, body = b.get("/roles")
	if strings.Contains(body, "Save changes") || strings.Contains(body, "Reset") {
		t.Errorf("SuperAdmin matrix renders Save or Reset")
	}
	if !strings.Contains(body, "cannot be changed") {
		t.Errorf("SuperAdmin matrix is not marked read-only")
	}

	status, _, _ = b.post("/roles/toggle", url.Values{"resource": {"users"}, "action": {"create"}})
	if status != http.StatusForbidden {
		t.Errorf("toggle on SuperAdmin = %d, want 403", status)
	}
}

func TestRolesToggleAndSave(t *testing.T) {
	fb := newFakeBackend()
	b := newTestConsole(t, fb)
	b.login("root")
	b.get("/roles")

	status, loc, _ := b.post("/roles/toggle", url.Values{"resource": {"auditLogs"}, "action": {"view"}})
	if status != http.StatusSeeOther || loc != "/roles" {
		t.Fatalf("toggle = %d %q", status, loc)
	}
	_, _, body := b.get("/roles")
	if !strings.Contains(body, "Unsaved changes") {
		t.Errorf("draft is not marked dirty")
	}

	status, loc, _ = b.post("/roles/save", nil)
	if status != http.StatusSeeOther || loc != "/roles" {
		t.Fatalf("save = %d %q", status, loc)
	}

	fb.mu.Lock()
	saved, ok := fb.saved[access.RoleAdmin]
	fb.mu.Unlock()
	if !ok || !saved.AuditLogs.View || !saved.Users.Read {
		t.Errorf("saved Admin set = %+v (ok=%v)", saved, ok)
	}

	_, _, body = b.get("/roles")
	if !strings.Contains(body, "Permissions for Admin saved.") {
		t.Errorf("save notice missing")
	}
	if strings.Contains(body, "Unsaved changes") {
		t.Errorf("draft still dirty after save")
	}
}

func TestRolesSwitchAsksBeforeDiscarding(t *testing.T) {
	b := newTestConsole(t, newFakeBackend())
	b.login("root")
	b.get("/roles")
	b.post("/roles/toggle", url.Values{"resource": {"leads"}, "action": {"read"}})

	status, _, body := b.get("/roles/EditMode")
	if status != http.StatusOK || !strings.Contains(body, "Discard changes") {
		t.Fatalf("switch with dirty draft = %d, dialog shown=%v", status, strings.Contains(body, "Discard changes"))
	}

	status, loc, _ := b.post("/roles/select", url.Values{"role": {"EditMode"}, "confirm": {"yes"}})
	if status != http.StatusSeeOther || loc != "/roles" {
		t.Fatalf("confirm = %d %q", status, loc)
	}
	_, _, body = b.get("/roles")
	if !strings.Contains(body, `href="/roles/EditMode" class="active"`) {
		t.Errorf("EditMode is not the active role")
	}
	if strings.Contains(body, "Unsaved changes") {
		t.Errorf("draft carried over to the new role")
	}
}

func TestAuditServerError(t *testing.T) {
	fb := newFakeBackend()
	fb.auditStatus = http.StatusInternalServerError
	b := newTestConsole(t, fb)
	b.login("root")

	status, _, body := b.get("/audit?tab=audit&page=3")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	for _, want := range []string{"Failed to load logs. Please try again.", "Page 1 of 1", "No logs found."} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestAuditDetailResolvesUsers(t *testing.T) {
	fb := newFakeBackend()
	fb.admins = []backend.AdminSummary{
		{ID: "a1", Username: "dave", Email: "dave@example.com", Role: access.RoleAdmin},
		{ID: "a2", Username: "erin", Email: "erin@example.com", Role: access.RoleEditMode},
	}
	fb.audit = []backend.AuditLogEntry{{
		ID:     "log1",
		Admin:  &backend.AdminRef{ID: "u0", Username: "root", Role: access.RoleSuperAdmin},
		Action: "update_lead",
		Target: "Lead 42",
		Metadata: map[string]any{
			"updateFields": map[string]any{
				"assignedTo": map[string]any{"oldValue": "a1", "newValue": "a2"},
			},
		},
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}}
	b := newTestConsole(t, fb)
	b.login("root")

	_, _, body := b.get("/audit")
	if !strings.Contains(body, "View Details") {
		t.Fatalf("audit row has no details link")
	}

	status, _, body := b.get("/audit/audit/log1?tab=audit")
	if status != http.StatusOK {
		t.Fatalf("detail status = %d", status)
	}
	for _, want := range []string{"Assigned To", "dave", "erin", "Changed"} {
		if !strings.Contains(body, want) {
			t.Errorf("detail missing %q", want)
		}
	}

	status, _, _ = b.get("/audit/audit/missing?tab=audit")
	if status != http.StatusNotFound {
		t.Errorf("unknown entry status = %d, want 404", status)
	}
}
