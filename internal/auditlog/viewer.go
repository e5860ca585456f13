package auditlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/metrics"
)

// Empty-state copy.
const (
	EmptyNoLogs   = "No logs found."
	EmptyFiltered = "No logs match the current filters."
)

// Source fetches log pages. *backend.Client satisfies it.
type Source interface {
	ListAuditLogs(ctx context.Context, q backend.AuditQuery) (*backend.AuditLogPage, error)
	ListLoginHistory(ctx context.Context, q backend.LoginQuery) (*backend.LoginHistoryPage, error)
}

// Row is one table line of either tab.
type Row struct {
	ID         string
	Admin      string
	AdminRole  string
	Time       time.Time
	HasDetails bool

	// Audit tab
	Action string
	Target string
	Audit  *backend.AuditLogEntry

	// Login tab
	Success   bool
	IPAddress string
	UserAgent string
	Login     *backend.LoginHistoryEntry
}

// ActionLabel humanises the action name, "update_lead" becomes "Update Lead".
func (r Row) ActionLabel() string {
	return cases.Title(language.English).String(strings.ReplaceAll(r.Action, "_", " "))
}

func auditRow(e backend.AuditLogEntry) Row {
	entry := e
	row := Row{
		ID:         e.ID,
		Admin:      e.Admin.Display(),
		Time:       e.CreatedAt,
		Action:     e.Action,
		Target:     e.Target,
		HasDetails: len(e.Metadata) > 0,
		Audit:      &entry,
	}
	if e.Admin != nil {
		row.AdminRole = string(e.Admin.Role)
	}
	return row
}

func loginRow(e backend.LoginHistoryEntry) Row {
	entry := e
	row := Row{
		ID:         e.ID,
		Admin:      e.Admin.Display(),
		Time:       e.LoginAt,
		Success:    e.Success,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		HasDetails: true,
		Login:      &entry,
	}
	if e.Admin != nil {
		row.AdminRole = string(e.Admin.Role)
	}
	return row
}

// State is what the table renders.
type State struct {
	Tab         Tab
	Filter      Filter
	Page        int
	TotalPages  int
	TotalItems  int
	Rows        []Row
	Loading     bool
	Err         string
	FieldErrors map[string]string
}

// PrevDisabled reports whether Previous is disabled.
func (s State) PrevDisabled() bool {
	return s.Page <= 1
}

// NextDisabled reports whether Next is disabled.
func (s State) NextDisabled() bool {
	return s.TotalItems == 0 || s.Page >= s.TotalPages
}

// PageLabel is the "Page X of Y" indicator.
func (s State) PageLabel() string {
	return fmt.Sprintf("Page %d of %d", s.Page, s.TotalPages)
}

// EmptyMessage is the copy shown for a page without rows.
func (s State) EmptyMessage() string {
	if s.Filter.ForTab(s.Tab).IsEmpty() {
		return EmptyNoLogs
	}
	return EmptyFiltered
}

// Viewer drives the two log tabs. Every load takes a sequence number and a
// response is applied only if no later load was issued meanwhile.
type Viewer struct {
	src    Source
	logger *slog.Logger

	mu    sync.Mutex
	seq   uint64
	state State
}

// NewViewer creates a viewer on the audit tab, page 1.
func NewViewer(src Source, logger *slog.Logger) *Viewer {
	return &Viewer{
		src:    src,
		logger: logger,
		state:  State{Tab: TabAudit, Page: 1, TotalPages: 1},
	}
}

// State returns a copy of the current state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.state
	s.Rows = append([]Row(nil), v.state.Rows...)
	return s
}

// Load re-issues the current query.
func (v *Viewer) Load(ctx context.Context) error {
	s := v.State()
	return v.load(ctx, s.Tab, s.Filter, s.Page)
}

// SetTab switches tab, resets to page 1 and keeps the filters.
func (v *Viewer) SetTab(ctx context.Context, tab Tab) error {
	s := v.State()
	return v.load(ctx, tab, s.Filter, 1)
}

// ApplyFilter replaces the filters and goes back to page 1.
func (v *Viewer) ApplyFilter(ctx context.Context, f Filter) error {
	s := v.State()
	return v.load(ctx, s.Tab, f, 1)
}

// ClearFilters removes every filter.
func (v *Viewer) ClearFilters(ctx context.Context) error {
	return v.ApplyFilter(ctx, Filter{})
}

// SetPage jumps to page, clamped to the known bounds.
func (v *Viewer) SetPage(ctx context.Context, page int) error {
	s := v.State()
	if page > s.TotalPages {
		page = s.TotalPages
	}
	if page < 1 {
		page = 1
	}
	return v.load(ctx, s.Tab, s.Filter, page)
}

// Next moves one page forward unless Next is disabled.
func (v *Viewer) Next(ctx context.Context) error {
	s := v.State()
	if s.NextDisabled() {
		return nil
	}
	return v.load(ctx, s.Tab, s.Filter, s.Page+1)
}

// Prev moves one page back unless Previous is disabled.
func (v *Viewer) Prev(ctx context.Context) error {
	s := v.State()
	if s.PrevDisabled() {
		return nil
	}
	return v.load(ctx, s.Tab, s.Filter, s.Page-1)
}

// Restore loads an explicit tab, filter and page, as carried by a URL.
func (v *Viewer) Restore(ctx context.Context, tab Tab, f Filter, page int) error {
	if page < 1 {
		page = 1
	}
	return v.load(ctx, tab, f, page)
}

// Find returns the row with id on the current page of tab.
func (v *Viewer) Find(tab Tab, id string) (Row, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.Tab != tab {
		return Row{}, false
	}
	for _, r := range v.state.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// DismissError clears the error banner.
func (v *Viewer) DismissError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Err = ""
}

type pageResult struct {
	rows       []Row
	totalItems int
	totalPages int
}

func (v *Viewer) fetch(ctx context.Context, tab Tab, f Filter, page int) (pageResult, error) {
	f = f.ForTab(tab)
	if tab == TabLogins {
		resp, err := v.src.ListLoginHistory(ctx, backend.LoginQuery{
			UserID:    f.AdminID,
			StartDate: f.StartDate,
			EndDate:   f.EndDate,
			Page:      page,
			Limit:     PageSize,
		})
		if err != nil {
			return pageResult{}, err
		}
		out := pageResult{totalItems: resp.TotalItems, totalPages: resp.TotalPages}
		for _, e := range resp.Logs {
			out.rows = append(out.rows, loginRow(e))
		}
		return out, nil
	}

	resp, err := v.src.ListAuditLogs(ctx, backend.AuditQuery{
		PerformedBy: f.AdminID,
		Action:      f.Action,
		StartDate:   f.StartDate,
		EndDate:     f.EndDate,
		Page:        page,
		Limit:       PageSize,
	})
	if err != nil {
		return pageResult{}, err
	}
	out := pageResult{totalItems: resp.TotalItems, totalPages: resp.TotalPages}
	for _, e := range resp.Logs {
		out.rows = append(out.rows, auditRow(e))
	}
	return out, nil
}

func (v *Viewer) load(ctx context.Context, tab Tab, f Filter, page int) error {
	f = f.Normalize()

	if err := f.Validate(tab); err != nil {
		v.mu.Lock()
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			v.state.FieldErrors = vErr.Fields
		}
		v.state.Filter = f
		if tab != v.state.Tab {
			// Rows on hand belong to the other tab.
			v.seq++
			v.state.Tab = tab
			v.state.Rows = nil
			v.state.TotalItems = 0
			v.state.TotalPages = 1
			v.state.Page = 1
			v.state.Loading = false
		}
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	v.seq++
	my := v.seq
	v.state.Tab = tab
	v.state.Filter = f
	v.state.Page = page
	v.state.Loading = true
	v.state.FieldErrors = nil
	v.mu.Unlock()

	res, err := v.fetch(ctx, tab, f, page)

	v.mu.Lock()
	defer v.mu.Unlock()

	if my != v.seq {
		v.logger.Debug("discarding superseded log page", "tab", tab, "page", page)
		return nil
	}
	v.state.Loading = false

	if err != nil {
		v.state.Rows = nil
		v.state.TotalItems = 0
		v.state.TotalPages = 1
		v.state.Page = 1
		metrics.IncAuditQuery(string(tab), "error")
		if backend.IsAuthError(err) {
			v.state.Err = ""
			return err
		}
		v.state.Err = "Failed to load logs. Please try again."
		v.logger.Error("failed to load logs", "tab", tab, "page", page, "error", err)
		return fmt.Errorf("load %s logs: %w", tab, err)
	}

	metrics.IncAuditQuery(string(tab), "success")
	v.state.Rows = res.rows
	v.state.TotalItems = res.totalItems
	v.state.TotalPages = res.totalPages
	if v.state.TotalPages < 1 {
		v.state.TotalPages = 1
	}
	v.state.Err = ""
	return nil
}
