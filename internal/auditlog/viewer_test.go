package auditlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/backoffice/internal/backend"
)

type fakeSource struct {
	mu          sync.Mutex
	audit       []backend.AuditLogEntry
	logins      []backend.LoginHistoryEntry
	auditCalls  []backend.AuditQuery
	loginCalls  []backend.LoginQuery
	err         error
	blockAction string
	entered     chan struct{}
	release     chan struct{}
}

func paginate[T any](items []T, page, limit int) ([]T, int, int) {
	total := len(items)
	pages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], total, pages
}

func (f *fakeSource) ListAuditLogs(ctx context.Context, q backend.AuditQuery) (*backend.AuditLogPage, error) {
	if f.blockAction != "" && q.Action == f.blockAction {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditCalls = append(f.auditCalls, q)
	if f.err != nil {
		return nil, f.err
	}
	var matched []backend.AuditLogEntry
	for _, e := range f.audit {
		if q.Action == "" || e.Action == q.Action {
			matched = append(matched, e)
		}
	}
	logs, total, pages := paginate(matched, q.Page, q.Limit)
	return &backend.AuditLogPage{Logs: logs, TotalItems: total, TotalPages: pages}, nil
}

func (f *fakeSource) ListLoginHistory(ctx context.Context, q backend.LoginQuery) (*backend.LoginHistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls = append(f.loginCalls, q)
	if f.err != nil {
		return nil, f.err
	}
	logs, total, pages := paginate(f.logins, q.Page, q.Limit)
	return &backend.LoginHistoryPage{Logs: logs, TotalItems: total, TotalPages: pages}, nil
}

func auditEntries(n int, action string) []backend.AuditLogEntry {
	out := make([]backend.AuditLogEntry, n)
	for i := range out {
		out[i] = backend.AuditLogEntry{
			ID:        fmt.Sprintf("%s-%d", action, i),
			Admin:     &backend.AdminRef{ID: "a1", Username: "alice"},
			Action:    action,
			Target:    "lead",
			CreatedAt: time.Date(2024, 5, 1, 10, 0, i, 0, time.UTC),
		}
	}
	return out
}

func newTestViewer(src Source) *Viewer {
	return NewViewer(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPaginationBounds(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		wantPrev bool
		wantNext bool
	}{
		{"first of many", State{Page: 1, TotalPages: 3, TotalItems: 25}, true, false},
		{"middle", State{Page: 2, TotalPages: 3, TotalItems: 25}, false, false},
		{"last", State{Page: 3, TotalPages: 3, TotalItems: 25}, false, true},
		{"single page", State{Page: 1, TotalPages: 1, TotalItems: 4}, true, true},
		{"empty", State{Page: 1, TotalPages: 1, TotalItems: 0}, true, true},
		{"empty with bogus pages", State{Page: 1, TotalPages: 5, TotalItems: 0}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.PrevDisabled(); got != tt.wantPrev {
				t.Errorf("PrevDisabled() = %v, want %v", got, tt.wantPrev)
			}
			if got := tt.state.NextDisabled(); got != tt.wantNext {
				t.Errorf("NextDisabled() = %v, want %v", got, tt.wantNext)
			}
		})
	}
}

func TestEmptyMessage(t *testing.T) {
	if got := (State{}).EmptyMessage(); got != EmptyNoLogs {
		t.Errorf("no filters: %q", got)
	}
	if got := (State{Filter: Filter{StartDate: "2024-01-01"}}).EmptyMessage(); got != EmptyFiltered {
		t.Errorf("with filter: %q", got)
	}
	if got := (State{Filter: Filter{AdminID: "  "}}).EmptyMessage(); got != EmptyNoLogs {
		t.Errorf("blank filter counts as set: %q", got)
	}
}

func TestViewerPaging(t *testing.T) {
	src := &fakeSource{audit: auditEntries(25, "update_lead")}
	v := newTestViewer(src)
	ctx := context.Background()

	if err := v.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s := v.State()
	if len(s.Rows) != PageSize || s.TotalPages != 3 || s.TotalItems != 25 {
		t.Fatalf("first page: rows=%d pages=%d items=%d", len(s.Rows), s.TotalPages, s.TotalItems)
	}
	if s.PageLabel() != "Page 1 of 3" {
		t.Errorf("PageLabel() = %q", s.PageLabel())
	}

	if err := v.Prev(ctx); err != nil {
		t.Fatal(err)
	}
	if len(src.auditCalls) != 1 {
		t.Error("Prev on page 1 issued a request")
	}

	v.Next(ctx)
	v.Next(ctx)
	s = v.State()
	if s.Page != 3 || len(s.Rows) != 5 || !s.NextDisabled() {
		t.Errorf("last page: page=%d rows=%d", s.Page, len(s.Rows))
	}
	v.Next(ctx)
	if len(src.auditCalls) != 3 {
		t.Errorf("Next on last page issued a request: %d calls", len(src.auditCalls))
	}

	if err := v.SetPage(ctx, 99); err != nil {
		t.Fatal(err)
	}
	if got := src.auditCalls[len(src.auditCalls)-1].Page; got != 3 {
		t.Errorf("SetPage(99) requested page %d, want clamp to 3", got)
	}

	for _, q := range src.auditCalls {
		if q.Limit != PageSize {
			t.Errorf("limit = %d, want %d", q.Limit, PageSize)
		}
	}
}

func TestViewerTabSwitchResetsPage(t *testing.T) {
	src := &fakeSource{
		audit:  auditEntries(25, "create_admin"),
		logins: []backend.LoginHistoryEntry{{ID: "l1", Success: true, UserAgent: "curl/8"}},
	}
	v := newTestViewer(src)
	ctx := context.Background()

	v.ApplyFilter(ctx, Filter{AdminID: "a1", Action: "create_admin", StartDate: "2024-01-01"})
	v.Next(ctx)
	if v.State().Page != 2 {
		t.Fatalf("page = %d, want 2", v.State().Page)
	}

	if err := v.SetTab(ctx, TabLogins); err != nil {
		t.Fatalf("SetTab() error = %v", err)
	}
	s := v.State()
	if s.Tab != TabLogins || s.Page != 1 {
		t.Errorf("after tab switch: tab=%s page=%d", s.Tab, s.Page)
	}

	q := src.loginCalls[0]
	if q.UserID != "a1" || q.StartDate != "2024-01-01" || q.Page != 1 {
		t.Errorf("login query = %+v", q)
	}
	if len(s.Rows) != 1 || !s.Rows[0].HasDetails || s.Rows[0].Login == nil {
		t.Errorf("login rows = %+v", s.Rows)
	}
	if s.EmptyMessage() != EmptyFiltered {
		t.Errorf("EmptyMessage() = %q", s.EmptyMessage())
	}
}

func TestViewerKeepsActionAcrossTabs(t *testing.T) {
	src := &fakeSource{
		audit:  append(auditEntries(2, "update_lead"), auditEntries(3, "delete_lead")...),
		logins: []backend.LoginHistoryEntry{{ID: "l1", Success: true}},
	}
	v := newTestViewer(src)
	ctx := context.Background()

	if err := v.ApplyFilter(ctx, Filter{Action: "update_lead"}); err != nil {
		t.Fatal(err)
	}
	if err := v.SetTab(ctx, TabLogins); err != nil {
		t.Fatal(err)
	}
	if s := v.State(); s.EmptyMessage() != EmptyNoLogs {
		t.Errorf("login tab with only an action set: EmptyMessage() = %q", s.EmptyMessage())
	}
	if err := v.SetTab(ctx, TabAudit); err != nil {
		t.Fatal(err)
	}

	last := src.auditCalls[len(src.auditCalls)-1]
	if last.Action != "update_lead" {
		t.Errorf("audit query action = %q, want update_lead", last.Action)
	}
	s := v.State()
	if s.Filter.Action != "update_lead" || len(s.Rows) != 2 {
		t.Errorf("filter=%+v rows=%d", s.Filter, len(s.Rows))
	}
}

func TestViewerInvalidFilterOnTabSwitchDropsRows(t *testing.T) {
	src := &fakeSource{
		audit:  auditEntries(3, "update_lead"),
		logins: []backend.LoginHistoryEntry{{ID: "l1", Success: true}},
	}
	v := newTestViewer(src)
	ctx := context.Background()
	v.Load(ctx)
	first := v.State().Rows[0].ID

	bad := Filter{StartDate: "2024-02-01", EndDate: "2024-01-01"}
	if err := v.ApplyFilter(ctx, bad); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("ApplyFilter() error = %v, want ErrValidation", err)
	}
	if s := v.State(); s.Tab != TabAudit || len(s.Rows) != 3 || s.Filter != bad {
		t.Errorf("same-tab validation failure: tab=%s rows=%d filter=%+v", s.Tab, len(s.Rows), s.Filter)
	}

	if err := v.SetTab(ctx, TabLogins); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("SetTab() error = %v, want ErrValidation", err)
	}
	s := v.State()
	if s.Tab != TabLogins || len(s.Rows) != 0 {
		t.Fatalf("tab=%s rows=%d, want logins without rows", s.Tab, len(s.Rows))
	}
	if s.TotalItems != 0 || s.TotalPages != 1 || s.Page != 1 {
		t.Errorf("items=%d pages=%d page=%d", s.TotalItems, s.TotalPages, s.Page)
	}
	if s.FieldErrors["endDate"] == "" {
		t.Errorf("FieldErrors = %v", s.FieldErrors)
	}
	if _, ok := v.Find(TabLogins, first); ok {
		t.Error("Find() returned an audit row on the login tab")
	}
	if len(src.loginCalls) != 0 {
		t.Error("invalid filter reached the backend")
	}
}

func TestViewerDetailsAffordance(t *testing.T) {
	entries := auditEntries(2, "update_lead")
	entries[0].Metadata = map[string]any{"updateFields": map[string]any{}}
	v := newTestViewer(&fakeSource{audit: entries})
	v.Load(context.Background())

	rows := v.State().Rows
	if !rows[0].HasDetails || rows[1].HasDetails {
		t.Errorf("HasDetails = %v, %v", rows[0].HasDetails, rows[1].HasDetails)
	}
	if rows[0].ActionLabel() != "Update Lead" {
		t.Errorf("ActionLabel() = %q", rows[0].ActionLabel())
	}
	if _, ok := v.Find(TabAudit, entries[1].ID); !ok {
		t.Error("Find() missed a row on the current page")
	}
	if _, ok := v.Find(TabLogins, entries[1].ID); ok {
		t.Error("Find() matched a row of the other tab")
	}
}

func TestViewerServerError(t *testing.T) {
	src := &fakeSource{audit: auditEntries(25, "update_lead")}
	v := newTestViewer(src)
	ctx := context.Background()
	v.Load(ctx)
	v.Next(ctx)

	src.mu.Lock()
	src.err = &backend.APIError{Status: 500, Message: "boom"}
	src.mu.Unlock()

	err := v.Next(ctx)
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Next() error = %v, want APIError", err)
	}

	s := v.State()
	if len(s.Rows) != 0 || s.TotalItems != 0 || s.TotalPages != 1 {
		t.Errorf("stale data kept: rows=%d items=%d pages=%d", len(s.Rows), s.TotalItems, s.TotalPages)
	}
	if s.PageLabel() != "Page 1 of 1" {
		t.Errorf("PageLabel() = %q, want Page 1 of 1", s.PageLabel())
	}
	if s.Err == "" {
		t.Error("error banner missing")
	}
	if !s.PrevDisabled() || !s.NextDisabled() {
		t.Error("Previous and Next must both be disabled")
	}

	v.DismissError()
	if v.State().Err != "" {
		t.Error("DismissError() kept the banner")
	}
}

func TestViewerAuthErrorPropagates(t *testing.T) {
	v := newTestViewer(&fakeSource{err: backend.ErrSessionExpired})
	err := v.Load(context.Background())
	if !errors.Is(err, backend.ErrSessionExpired) {
		t.Fatalf("Load() error = %v, want ErrSessionExpired", err)
	}
	if v.State().Err != "" {
		t.Error("auth failure rendered as a page banner")
	}
}

func TestViewerValidationSkipsRequest(t *testing.T) {
	src := &fakeSource{}
	v := newTestViewer(src)

	err := v.ApplyFilter(context.Background(), Filter{StartDate: "2024-05-02", EndDate: "2024-05-01"})
	if !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("ApplyFilter() error = %v, want ErrValidation", err)
	}
	if len(src.auditCalls) != 0 {
		t.Error("invalid filter reached the backend")
	}
	if v.State().FieldErrors["endDate"] == "" {
		t.Errorf("FieldErrors = %v", v.State().FieldErrors)
	}

	if err := v.ApplyFilter(context.Background(), Filter{}); err != nil {
		t.Fatal(err)
	}
	if v.State().FieldErrors != nil {
		t.Error("field errors survived a valid load")
	}
}

func TestViewerDiscardsSupersededResponse(t *testing.T) {
	src := &fakeSource{
		audit:       append(auditEntries(3, "create_lead"), auditEntries(2, "delete_lead")...),
		blockAction: "create_lead",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	v := newTestViewer(src)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- v.ApplyFilter(ctx, Filter{Action: "create_lead"}) }()
	<-src.entered

	if err := v.ApplyFilter(ctx, Filter{Action: "delete_lead"}); err != nil {
		t.Fatalf("second ApplyFilter() error = %v", err)
	}
	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("first ApplyFilter() error = %v", err)
	}

	s := v.State()
	if s.Filter.Action != "delete_lead" || len(s.Rows) != 2 || s.TotalItems != 2 {
		t.Errorf("slow stale response won: filter=%q rows=%d", s.Filter.Action, len(s.Rows))
	}
	if s.Loading {
		t.Error("Loading left set")
	}
}
