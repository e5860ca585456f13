package handlers

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/config"
	"github.com/foxzi/backoffice/internal/detail"
	"github.com/foxzi/backoffice/internal/metrics"
	"github.com/foxzi/backoffice/internal/session"
	"github.com/foxzi/backoffice/internal/web/middleware"
	"github.com/foxzi/backoffice/internal/web/views"
	"github.com/foxzi/backoffice/internal/web/workspace"
)

type Handlers struct {
	cfg      *config.Config
	logger   *slog.Logger
	views    *views.Engine
	client   *backend.Client
	gate     *access.Gate
	registry *workspace.Registry
	sessions *session.BoltDB
	cookie   middleware.CookieOptions
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Views    *views.Engine
	Client   *backend.Client
	Registry *workspace.Registry
	Sessions *session.BoltDB
}

func New(d Deps) *Handlers {
	return &Handlers{
		cfg:      d.Config,
		logger:   d.Logger,
		views:    d.Views,
		client:   d.Client,
		gate:     access.NewGate(d.Logger),
		registry: d.Registry,
		sessions: d.Sessions,
		cookie:   CookieOptions(d.Config),
	}
}

// CookieOptions derives the session cookie settings from cfg.
func CookieOptions(cfg *config.Config) middleware.CookieOptions {
	return middleware.CookieOptions{
		Name:   cfg.Session.CookieName,
		TTL:    cfg.Session.TTL,
		Secure: cfg.Session.Secure,
	}
}

// Page is the data every template receives. Data carries the page specific
// part.
type Page struct {
	Title             string
	Active            string
	Session           *session.Session
	Error             string
	Notice            string
	Restricted        bool
	Placeholder       bool
	RestrictedTitle   string
	RestrictedMessage string
	Refresh           int
	Data              any
}

// Health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handlers) page(c *middleware.Console, title, active string) *Page {
	p := &Page{Title: title, Active: active}
	if c != nil {
		p.Session = c.Session
	}
	return p
}

// render executes the template into a buffer so a failing template never
// leaves a half written page behind.
func (h *Handlers) render(w http.ResponseWriter, status int, name string, p *Page) {
	var buf bytes.Buffer
	if err := h.views.Render(&buf, name, p); err != nil {
		h.logger.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

type message struct {
	Heading string
	Text    string
}

func (h *Handlers) message(w http.ResponseWriter, c *middleware.Console, status int, heading, text string) {
	p := h.page(c, heading, "")
	p.Data = message{Heading: heading, Text: text}
	h.render(w, status, "message", p)
}

// toLogin sends the browser to the login page. The client has already
// cleared the stored session when err came from a 401.
func (h *Handlers) toLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// guard resolves section for the caller. Unless access is allowed it writes
// the response itself: the restricted notice for a denied section, a
// placeholder while permissions cannot be loaded, or a redirect when the
// session is gone.
func (h *Handlers) guard(w http.ResponseWriter, r *http.Request, c *middleware.Console, section access.Section, title string) bool {
	d, err := h.gate.Check(r.Context(), c.Workspace.Client, c.Session.Role, section)
	metrics.IncAccessDecision(string(section), d.String())

	switch d {
	case access.DecisionAllowed:
		return true
	case access.DecisionDenied:
		p := h.page(c, title, string(section))
		p.Restricted = true
		p.RestrictedTitle = access.RestrictedTitle
		p.RestrictedMessage = access.RestrictedMessage
		h.render(w, http.StatusForbidden, "message", p)
		return false
	}

	if backend.IsAuthError(err) {
		h.toLogin(w, r)
		return false
	}
	p := h.page(c, title, string(section))
	p.Placeholder = true
	p.Error = "Failed to load permissions. Retrying…"
	p.Refresh = 5
	h.render(w, http.StatusServiceUnavailable, "message", p)
	return false
}

func (h *Handlers) detailRenderer(c *middleware.Console) *detail.Renderer {
	return detail.NewRenderer(c.Workspace.Client, h.logger,
		detail.WithConcurrency(h.cfg.Audit.LookupConcurrency),
	)
}
