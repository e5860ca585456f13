package handlers

import (
	"net/http"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/web/middleware"
)

type usersData struct {
	Admins []backend.AdminSummary
}

// Users lists admin accounts
func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionUsers, "Users") {
		return
	}

	p := h.page(c, "Users", string(access.SectionUsers))
	admins, err := c.Workspace.Client.ListAdmins(r.Context())
	if err != nil {
		if backend.IsAuthError(err) {
			h.toLogin(w, r)
			return
		}
		h.logger.Error("failed to list admins", "error", err)
		p.Error = "Failed to load users."
	}
	p.Data = usersData{Admins: admins}
	h.render(w, http.StatusOK, "users", p)
}
