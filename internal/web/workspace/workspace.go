package workspace

import (
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/backoffice/internal/auditlog"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/detail"
	"github.com/foxzi/backoffice/internal/permissions"
)

// Workspace is the per-browser state that must survive between requests:
// the permission draft, the log viewer position and the open detail panel.
type Workspace struct {
	ID     string
	Client *backend.Client
	Editor *permissions.Editor
	Viewer *auditlog.Viewer

	mu       sync.Mutex
	panel    *detail.Panel
	panelID  string
	lastSeen time.Time
}

// Panel returns the open panel for entry id, creating it with open when a
// different entry (or none) is open. The previous panel is closed.
func (w *Workspace) Panel(id string, open func() *detail.Panel) *detail.Panel {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.panel != nil && w.panelID == id {
		return w.panel
	}
	if w.panel != nil {
		w.panel.Close()
	}
	w.panel = open()
	w.panelID = id
	return w.panel
}

// ClosePanel closes the open detail panel, if any.
func (w *Workspace) ClosePanel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.panel != nil {
		w.panel.Close()
		w.panel = nil
		w.panelID = ""
	}
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastSeen)
}

// Registry keeps one workspace per browser session id.
type Registry struct {
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	items map[string]*Workspace
}

// NewRegistry creates a registry. Workspaces idle for longer than ttl are
// removed by Sweep.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		items:  make(map[string]*Workspace),
	}
}

// Get returns the workspace of id, creating it around client on first use.
func (r *Registry) Get(id string, client *backend.Client) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if ws, ok := r.items[id]; ok {
		ws.touch(now)
		return ws
	}

	ws := &Workspace{
		ID:       id,
		Client:   client,
		Editor:   permissions.NewEditor(client, r.logger),
		Viewer:   auditlog.NewViewer(client, r.logger),
		lastSeen: now,
	}
	r.items[id] = ws
	r.logger.Debug("workspace created", "session", shortID(id))
	return ws
}

// Drop discards the workspace of id, closing its panel.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	ws, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()

	if ok {
		ws.ClosePanel()
		r.logger.Debug("workspace dropped", "session", shortID(id))
	}
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Sweep drops workspaces idle for longer than the ttl and returns how many
// were removed.
func (r *Registry) Sweep() int {
	now := r.now()
	var stale []string

	r.mu.Lock()
	for id, ws := range r.items {
		if ws.idleSince(now) > r.ttl {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Drop(id)
	}
	if len(stale) > 0 {
		r.logger.Info("idle workspaces swept", "count", len(stale))
	}
	return len(stale)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
