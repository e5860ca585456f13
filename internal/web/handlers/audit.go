package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/auditlog"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/detail"
	"github.com/foxzi/backoffice/internal/web/middleware"
)

const auditTitle = "Audit Logs"

type auditTab struct {
	Label  string
	URL    string
	Active bool
}

type auditRow struct {
	auditlog.Row
	DetailURL string
}

type auditData struct {
	State      auditlog.State
	Tabs       []auditTab
	Admins     []backend.AdminSummary
	Actions    []auditlog.ActionOption
	Rows       []auditRow
	ClearURL   string
	DismissURL string
	PrevURL    string
	NextURL    string
}

type detailData struct {
	View    detail.View
	BackURL string
}

func auditURL(tab auditlog.Tab, f auditlog.Filter, page int) string {
	return "/audit?" + auditlog.Query(tab, f, page).Encode()
}

// Audit renders one page of either log tab. Tab, filters and page travel in
// the query string so every view can be linked and reloaded.
func (h *Handlers) Audit(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionAuditLogs, auditTitle) {
		return
	}
	c.Workspace.ClosePanel()

	q := r.URL.Query()
	viewer := c.Workspace.Viewer
	if q.Get("dismiss") == "1" {
		viewer.DismissError()
	} else {
		tab, f, page := auditlog.ParseQuery(q)
		err := viewer.Restore(r.Context(), tab, f, page)
		if backend.IsAuthError(err) {
			h.toLogin(w, r)
			return
		}
	}

	admins, err := c.Workspace.Client.ListAdmins(r.Context())
	if err != nil {
		if backend.IsAuthError(err) {
			h.toLogin(w, r)
			return
		}
		h.logger.Warn("failed to load admins for filter", "error", err)
	}

	s := viewer.State()
	data := auditData{
		State:    s,
		Admins:   admins,
		Actions:  auditlog.Actions,
		ClearURL: auditURL(s.Tab, auditlog.Filter{}, 1),
		PrevURL:  auditURL(s.Tab, s.Filter, s.Page-1),
		NextURL:  auditURL(s.Tab, s.Filter, s.Page+1),
	}
	dismiss := auditlog.Query(s.Tab, s.Filter, s.Page)
	dismiss.Set("dismiss", "1")
	data.DismissURL = "/audit?" + dismiss.Encode()

	for _, t := range []auditlog.Tab{auditlog.TabAudit, auditlog.TabLogins} {
		data.Tabs = append(data.Tabs, auditTab{
			Label:  t.Label(),
			URL:    auditURL(t, s.Filter, 1),
			Active: t == s.Tab,
		})
	}
	back := auditlog.Query(s.Tab, s.Filter, s.Page).Encode()
	for _, row := range s.Rows {
		data.Rows = append(data.Rows, auditRow{
			Row:       row,
			DetailURL: "/audit/" + string(s.Tab) + "/" + url.PathEscape(row.ID) + "?" + back,
		})
	}

	p := h.page(c, auditTitle, string(access.SectionAuditLogs))
	p.Data = data
	h.render(w, http.StatusOK, "audit", p)
}

// AuditDetail renders one entry. User references are resolved in the
// background; the page waits briefly and otherwise refreshes itself until
// every lookup has finished.
func (h *Handlers) AuditDetail(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionAuditLogs, auditTitle) {
		return
	}

	tab := auditlog.ParseTab(chi.URLParam(r, "tab"))
	id := chi.URLParam(r, "id")
	viewer := c.Workspace.Viewer

	row, ok := viewer.Find(tab, id)
	if !ok {
		qTab, f, page := auditlog.ParseQuery(r.URL.Query())
		if qTab != tab {
			f = auditlog.Filter{}
			page = 1
		}
		err := viewer.Restore(r.Context(), tab, f, page)
		if backend.IsAuthError(err) {
			h.toLogin(w, r)
			return
		}
		row, ok = viewer.Find(tab, id)
	}
	if !ok {
		c.Workspace.ClosePanel()
		h.message(w, c, http.StatusNotFound, "Entry not found", "The log entry is not on the current page.")
		return
	}

	s := viewer.State()
	p := h.page(c, auditTitle, string(access.SectionAuditLogs))
	data := detailData{BackURL: auditURL(s.Tab, s.Filter, s.Page)}
	renderer := h.detailRenderer(c)

	switch {
	case row.Login != nil:
		c.Workspace.ClosePanel()
		data.View = renderer.RenderLogin(*row.Login)
	case row.Audit != nil:
		entry := *row.Audit
		panel := c.Workspace.Panel(id, func() *detail.Panel {
			return renderer.Open(context.WithoutCancel(r.Context()), entry)
		})
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Audit.LookupWait)
		err := panel.Wait(ctx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return
		}
		data.View = panel.View()
		if data.View.Pending {
			p.Refresh = 1
		}
	}

	p.Data = data
	h.render(w, http.StatusOK, "detail", p)
}
