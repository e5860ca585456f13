package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/session"
	"github.com/foxzi/backoffice/internal/web/workspace"
)

type ctxKey string

const ctxKeyConsole ctxKey = "console"

// Console is the browser session attached to a request.
type Console struct {
	ID        string
	Store     session.Store
	Session   *session.Session
	Workspace *workspace.Workspace
}

// FromContext returns the console attached by Sessions, or nil.
func FromContext(ctx context.Context) *Console {
	if c, ok := ctx.Value(ctxKeyConsole).(*Console); ok {
		return c
	}
	return nil
}

// WithConsole attaches c to ctx.
func WithConsole(ctx context.Context, c *Console) context.Context {
	return context.WithValue(ctx, ctxKeyConsole, c)
}

// Logger middleware logs HTTP requests
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"ip", r.RemoteAddr,
			)
		})
	}
}

// Recovery middleware recovers from panics
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CookieOptions controls the browser session cookie.
type CookieOptions struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Sessions attaches the browser's console to every request. A browser
// without a cookie gets a fresh random id. The stored session is loaded from
// db and the workspace is taken from registry, bound to the same store.
func Sessions(opts CookieOptions, db *session.BoltDB, registry *workspace.Registry, client *backend.Client, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cookie, err := r.Cookie(opts.Name); err == nil {
				if _, err := uuid.Parse(cookie.Value); err == nil {
					id = cookie.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				SetCookie(w, opts, id)
			}

			store := db.Store(id)
			sess, err := store.Load(r.Context())
			if err != nil {
				logger.Error("failed to load session", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			bound := client.Bind(store).WithHook(func(ctx context.Context) {
				registry.Drop(id)
			})
			c := &Console{
				ID:        id,
				Store:     store,
				Session:   sess,
				Workspace: registry.Get(id, bound),
			}
			next.ServeHTTP(w, r.WithContext(WithConsole(r.Context(), c)))
		})
	}
}

// SetCookie writes the session cookie for id.
func SetCookie(w http.ResponseWriter, opts CookieOptions, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(opts.TTL.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequireSession redirects to the login page when no session is stored.
// An expired token is cleared first.
func RequireSession(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := FromContext(r.Context())
			if c == nil || c.Session == nil {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			if c.Session.Expired(time.Now()) {
				if err := c.Store.Clear(r.Context()); err != nil {
					logger.Error("failed to clear expired session", "error", err)
				}
				c.Workspace.ClosePanel()
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
