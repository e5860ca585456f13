package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/metrics"
	"github.com/foxzi/backoffice/internal/session"
	"github.com/foxzi/backoffice/internal/web/middleware"
)

type loginData struct {
	Username string
}

// LoginPage renders the login page
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if c != nil && c.Session != nil && !c.Session.Expired(time.Now()) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderLogin(w, http.StatusOK, "", "")
}

// Login handles login form submission
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, http.StatusBadRequest, "", "Invalid form data")
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	resp, err := h.client.Login(r.Context(), username, password)
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrValidation):
			metrics.IncLoginAttempt("invalid")
			h.renderLogin(w, http.StatusBadRequest, username, "Username and password are required")
		case errors.Is(err, backend.ErrInvalidCredentials):
			metrics.IncLoginAttempt("invalid")
			h.logger.Info("login rejected", "username", username, "ip", r.RemoteAddr)
			h.renderLogin(w, http.StatusUnauthorized, username, "Invalid username or password")
		default:
			metrics.IncLoginAttempt("error")
			h.logger.Error("login failed", "username", username, "error", err)
			h.renderLogin(w, http.StatusBadGateway, username, "Login failed. Please try again.")
		}
		return
	}

	sess, err := session.New(resp.Token, resp.Role, resp.Username, resp.UserID)
	if err != nil {
		metrics.IncLoginAttempt("error")
		h.logger.Error("login response rejected", "username", username, "error", err)
		h.renderLogin(w, http.StatusBadGateway, username, "Login failed. Please try again.")
		return
	}

	// Rotate the browser id so a pre-login cookie never carries a token.
	id := uuid.NewString()
	if err := h.sessions.Store(id).Save(r.Context(), sess); err != nil {
		metrics.IncLoginAttempt("error")
		h.logger.Error("failed to save session", "error", err)
		h.renderLogin(w, http.StatusInternalServerError, username, "Login failed. Please try again.")
		return
	}
	if c != nil {
		if err := c.Store.Clear(r.Context()); err != nil {
			h.logger.Warn("failed to clear previous session", "error", err)
		}
		h.registry.Drop(c.ID)
	}
	middleware.SetCookie(w, h.cookie, id)

	metrics.IncLoginAttempt("success")
	h.logger.Info("admin logged in", "username", sess.Username, "role", sess.Role)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles user logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if c := middleware.FromContext(r.Context()); c != nil {
		if err := c.Store.Clear(r.Context()); err != nil {
			h.logger.Error("failed to clear session", "error", err)
		}
		h.registry.Drop(c.ID)
	}
	middleware.ClearCookie(w, h.cookie)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handlers) renderLogin(w http.ResponseWriter, status int, username, errMsg string) {
	p := &Page{Title: "Sign in", Error: errMsg, Data: loginData{Username: username}}
	h.render(w, status, "login", p)
}

// LoginRateLimited answers a login attempt over the per-IP budget.
func (h *Handlers) LoginRateLimited(w http.ResponseWriter, r *http.Request) {
	metrics.IncRateLimitExceeded("login")
	h.renderLogin(w, http.StatusTooManyRequests, "", "Too many login attempts. Please wait a minute and try again.")
}
