package detail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/metrics"
)

// AdminSource resolves admin ids. *backend.Client satisfies it.
type AdminSource interface {
	GetAdmin(ctx context.Context, id string) (*backend.AdminSummary, error)
}

// Renderer opens detail panels for audit entries.
type Renderer struct {
	admins      AdminSource
	logger      *slog.Logger
	concurrency int
	loc         *time.Location
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithConcurrency bounds parallel admin lookups per panel.
func WithConcurrency(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLocation sets the zone timestamps are printed in.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		r.loc = loc
	}
}

// NewRenderer creates a renderer. admins may be nil, in which case user ids
// are never resolved.
func NewRenderer(admins AdminSource, logger *slog.Logger, opts ...Option) *Renderer {
	r := &Renderer{
		admins:      admins,
		logger:      logger,
		concurrency: 4,
		loc:         time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render is the synchronous form: no lookups, bare ids print as they are.
func (r *Renderer) Render(e backend.AuditLogEntry) View {
	return Render(e, nil, r.loc)
}

// RenderLogin renders a login history entry.
func (r *Renderer) RenderLogin(e backend.LoginHistoryEntry) View {
	return RenderLogin(e, r.loc)
}

type lookup struct {
	user *User
	done bool
}

// Panel is an open detail view. It owns the user lookups started for its
// entry and caches their results until Close.
type Panel struct {
	entry  backend.AuditLogEntry
	loc    *time.Location
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	lookups map[string]*lookup
	closed  bool
}

// Open starts resolving every bare user id of e in one deduplicated batch
// and returns immediately.
func (r *Renderer) Open(ctx context.Context, e backend.AuditLogEntry) *Panel {
	ctx, cancel := context.WithCancel(ctx)
	p := &Panel{
		entry:   e,
		loc:     r.loc,
		cancel:  cancel,
		done:    make(chan struct{}),
		lookups: map[string]*lookup{},
	}

	ids := UserRefs(e)
	if r.admins == nil || len(ids) == 0 {
		close(p.done)
		return p
	}
	for _, id := range ids {
		p.lookups[id] = &lookup{}
	}

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	go func() {
		defer close(p.done)
		for _, id := range ids {
			g.Go(func() error {
				p.finish(id, r.resolve(ctx, id))
				return nil
			})
		}
		g.Wait()
	}()
	return p
}

func (r *Renderer) resolve(ctx context.Context, id string) *User {
	a, err := r.admins.GetAdmin(ctx, id)
	switch {
	case err == nil && a != nil:
		metrics.IncUserLookup("success")
		return &User{ID: a.ID, Username: a.Username, Email: a.Email, Role: string(a.Role)}
	case backend.IsNotFound(err):
		metrics.IncUserLookup("not_found")
	case ctx.Err() != nil:
		metrics.IncUserLookup("cancelled")
		return nil
	default:
		metrics.IncUserLookup("error")
	}
	r.logger.Warn("failed to resolve user reference", "id", id, "error", err)
	return nil
}

func (p *Panel) finish(id string, u *User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if l, ok := p.lookups[id]; ok {
		l.user = u
		l.done = true
	}
}

// Resolve implements Resolver over the panel's cache.
func (p *Panel) Resolve(id string) (*User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.lookups[id]
	if !ok {
		return nil, false
	}
	if !l.done {
		return nil, !p.closed
	}
	return l.user, false
}

// Entry returns the entry the panel shows.
func (p *Panel) Entry() backend.AuditLogEntry {
	return p.entry
}

// View renders the entry with whatever lookups have completed.
func (p *Panel) View() View {
	return Render(p.entry, p, p.loc)
}

// Done is closed once every lookup has finished.
func (p *Panel) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until every lookup finished or ctx is done.
func (p *Panel) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels outstanding lookups. Ids still pending print raw from now on.
func (p *Panel) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}
