package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/permissions"
	"github.com/foxzi/backoffice/internal/web/middleware"
)

const rolesTitle = "Role Permissions"

type rolesData struct {
	View    permissions.View
	Confirm access.Role
}

// Roles renders the permission matrix of the active role. Every visit
// refreshes the stored sets; a dirty draft survives the refresh.
func (h *Handlers) Roles(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionRolePermissions, rolesTitle) {
		return
	}
	if err := c.Workspace.Editor.Load(r.Context()); err != nil {
		if backend.IsAuthError(err) {
			h.toLogin(w, r)
			return
		}
		h.logger.Warn("failed to load role permissions", "error", err)
	}
	h.renderRoles(w, c, http.StatusOK, "", "")
}

// RoleSelect switches the active role from a tab link. With unsaved changes
// the page asks for confirmation instead.
func (h *Handlers) RoleSelect(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionRolePermissions, rolesTitle) {
		return
	}
	if !h.ensureLoaded(w, r, c) {
		return
	}

	role, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		h.message(w, c, http.StatusNotFound, "Unknown role", err.Error())
		return
	}
	ok, err := c.Workspace.Editor.SelectRole(role, nil)
	if err != nil {
		h.renderRoles(w, c, http.StatusConflict, "", err.Error())
		return
	}
	if !ok {
		h.renderRoles(w, c, http.StatusOK, role, "")
		return
	}
	http.Redirect(w, r, "/roles", http.StatusSeeOther)
}

// RoleConfirm answers the discard dialog.
func (h *Handlers) RoleConfirm(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionRolePermissions, rolesTitle) {
		return
	}
	if !h.ensureLoaded(w, r, c) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderRoles(w, c, http.StatusBadRequest, "", "Invalid form data")
		return
	}

	role, err := access.ParseRole(r.FormValue("role"))
	if err != nil {
		h.renderRoles(w, c, http.StatusBadRequest, "", err.Error())
		return
	}
	discard := r.FormValue("confirm") == "yes"
	if _, err := c.Workspace.Editor.SelectRole(role, func() bool { return discard }); err != nil {
		h.renderRoles(w, c, http.StatusConflict, "", err.Error())
		return
	}
	http.Redirect(w, r, "/roles", http.StatusSeeOther)
}

// RoleToggle flips one checkbox of the draft.
func (h *Handlers) RoleToggle(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionRolePermissions, rolesTitle) {
		return
	}
	if !h.ensureLoaded(w, r, c) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderRoles(w, c, http.StatusBadRequest, "", "Invalid form data")
		return
	}

	res, act, err := access.ParsePermission(r.FormValue("resource"), r.FormValue("action"))
	if err != nil {
		h.renderRoles(w, c, http.StatusBadRequest, "", err.Error())
		return
	}
	if err := c.Workspace.Editor.Toggle(res, act); err != nil {
		h.renderRoles(w, c, editStatus(err), "", err.Error())
		return
	}
	http.Redirect(w, r, "/roles", http.StatusSeeOther)
}

// RoleReset discards the draft.
func (h *Handlers) RoleReset(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionRolePermissions, rolesTitle) {
		return
	}
	if err := c.Workspace.Editor.Reset(); err != nil && !errors.Is(err, permissions.ErrNoChanges) {
		h.renderRoles(w, c, editStatus(err), "", err.Error())
		return
	}
	http.Redirect(w, r, "/roles", http.StatusSeeOther)
}

// RoleSave submits the draft. A failed save keeps the draft and the editor
// carries the error banner to the next render.
func (h *Handlers) RoleSave(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionRolePermissions, rolesTitle) {
		return
	}

	err := c.Workspace.Editor.Save(r.Context())
	switch {
	case err == nil, errors.Is(err, permissions.ErrNoChanges):
	case backend.IsAuthError(err):
		h.toLogin(w, r)
		return
	case errors.Is(err, permissions.ErrBusy), errors.Is(err, backend.ErrReadOnlyRole), errors.Is(err, permissions.ErrNotLoaded):
		h.renderRoles(w, c, editStatus(err), "", err.Error())
		return
	}
	http.Redirect(w, r, "/roles", http.StatusSeeOther)
}

// RoleDismiss clears the error banner.
func (h *Handlers) RoleDismiss(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if !h.guard(w, r, c, access.SectionRolePermissions, rolesTitle) {
		return
	}
	c.Workspace.Editor.ClearError()
	http.Redirect(w, r, "/roles", http.StatusSeeOther)
}

func (h *Handlers) ensureLoaded(w http.ResponseWriter, r *http.Request, c *middleware.Console) bool {
	if c.Workspace.Editor.Snapshot().Loaded {
		return true
	}
	if err := c.Workspace.Editor.Load(r.Context()); err != nil {
		if backend.IsAuthError(err) {
			h.toLogin(w, r)
			return false
		}
		h.renderRoles(w, c, http.StatusBadGateway, "", "")
		return false
	}
	return true
}

func (h *Handlers) renderRoles(w http.ResponseWriter, c *middleware.Console, status int, confirm access.Role, errMsg string) {
	p := h.page(c, rolesTitle, string(access.SectionRolePermissions))
	p.Error = errMsg
	p.Data = rolesData{View: c.Workspace.Editor.Snapshot(), Confirm: confirm}
	h.render(w, status, "roles", p)
}

func editStatus(err error) int {
	var vErr *permissions.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrReadOnlyRole):
		return http.StatusForbidden
	default:
		return http.StatusConflict
	}
}
