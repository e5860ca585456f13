package handlers

import (
	"net/http"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/metrics"
	"github.com/foxzi/backoffice/internal/web/middleware"
)

type card struct {
	Title    string
	Href     string
	Decision string
}

type dashboardData struct {
	Cards []card
}

var dashboardSections = []struct {
	section access.Section
	title   string
	href    string
}{
	{access.SectionUsers, "Users", "/users"},
	{access.SectionAuditLogs, "Audit Logs", "/audit"},
	{access.SectionRolePermissions, "Role Permissions", "/roles"},
}

// Dashboard shows one card per section. All cards are decided from a single
// permission fetch; while it fails every card stays undecided.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	p := h.page(c, "Dashboard", "dashboard")

	var matrix access.Matrix
	if c.Session.Role != access.RoleSuperAdmin {
		sets, err := c.Workspace.Client.ListRolePermissions(r.Context())
		switch {
		case backend.IsAuthError(err):
			h.toLogin(w, r)
			return
		case err != nil:
			h.logger.Warn("failed to load permissions for dashboard", "error", err)
			p.Error = "Failed to load permissions."
		default:
			matrix = access.NewMatrix(sets)
		}
	}

	data := dashboardData{}
	for _, s := range dashboardSections {
		d := access.Decide(c.Session.Role, s.section, matrix)
		metrics.IncAccessDecision(string(s.section), d.String())
		data.Cards = append(data.Cards, card{Title: s.title, Href: s.href, Decision: d.String()})
	}
	p.Data = data
	h.render(w, http.StatusOK, "dashboard", p)
}
