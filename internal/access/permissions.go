package access

import (
	"errors"
	"fmt"
)

// Role is an administrator role as issued by the backend.
type Role string

const (
	RoleSuperAdmin Role = "SuperAdmin"
	RoleAdmin      Role = "Admin"
	RoleViewMode   Role = "ViewMode"
	RoleEditMode   Role = "EditMode"
)

// Roles lists every role in display order.
var Roles = []Role{RoleSuperAdmin, RoleAdmin, RoleEditMode, RoleViewMode}

var ErrUnknownRole = errors.New("unknown role")

// ParseRole validates a role name received from the backend or a form.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// ReadOnly reports whether the role's permission set may never be edited
// from the console.
func (r Role) ReadOnly() bool {
	return r == RoleSuperAdmin
}

// Resource is a permission resource key shared with the backend.
type Resource string

const (
	ResourceUsers     Resource = "users"
	ResourceLeads     Resource = "leads"
	ResourceAdmins    Resource = "admins"
	ResourceAnalytics Resource = "analytics"
	ResourceAuditLogs Resource = "auditLogs"
)

// Action is a single permission flag within a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionView   Action = "view"
)

// ResourceSpec describes one row of the permission matrix.
type ResourceSpec struct {
	Key     Resource
	Label   string
	Actions []Action
}

var crudActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// Resources is the single definition of the permission matrix. The editor,
// the gate, the CLI and the templates all iterate this table.
var Resources = []ResourceSpec{
	{Key: ResourceUsers, Label: "Users", Actions: crudActions},
	{Key: ResourceLeads, Label: "Leads", Actions: crudActions},
	{Key: ResourceAdmins, Label: "Admins", Actions: crudActions},
	{Key: ResourceAnalytics, Label: "Analytics", Actions: []Action{ActionView}},
	{Key: ResourceAuditLogs, Label: "Audit Logs", Actions: []Action{ActionView}},
}

var ErrUnknownPermission = errors.New("unknown permission")

// CRUD holds create/read/update/delete flags for one resource.
type CRUD struct {
	Create bool `json:"create"`
	Read   bool `json:"read"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// ViewOnly holds the single view flag of a read-only resource.
type ViewOnly struct {
	View bool `json:"view"`
}

// Permissions is the full matrix of one role. It is a plain comparable value:
// copying it snapshots it and == compares it structurally.
type Permissions struct {
	Users     CRUD     `json:"users"`
	Leads     CRUD     `json:"leads"`
	Admins    CRUD     `json:"admins"`
	Analytics ViewOnly `json:"analytics"`
	AuditLogs ViewOnly `json:"auditLogs"`
}

// RolePermissionSet is the backend record for one role.
type RolePermissionSet struct {
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
}

func (p *Permissions) flag(res Resource, act Action) (*bool, error) {
	var crud *CRUD
	switch res {
	case ResourceUsers:
		crud = &p.Users
	case ResourceLeads:
		crud = &p.Leads
	case ResourceAdmins:
		crud = &p.Admins
	case ResourceAnalytics:
		if act == ActionView {
			return &p.Analytics.View, nil
		}
	case ResourceAuditLogs:
		if act == ActionView {
			return &p.AuditLogs.View, nil
		}
	}
	if crud != nil {
		switch act {
		case ActionCreate:
			return &crud.Create, nil
		case ActionRead:
			return &crud.Read, nil
		case ActionUpdate:
			return &crud.Update, nil
		case ActionDelete:
			return &crud.Delete, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownPermission, res, act)
}

// Allowed reports the value of one flag. Unknown keys are never allowed.
func (p Permissions) Allowed(res Resource, act Action) bool {
	f, err := p.flag(res, act)
	if err != nil {
		return false
	}
	return *f
}

// Set assigns one flag.
func (p *Permissions) Set(res Resource, act Action, v bool) error {
	f, err := p.flag(res, act)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Toggle flips one flag.
func (p *Permissions) Toggle(res Resource, act Action) error {
	f, err := p.flag(res, act)
	if err != nil {
		return err
	}
	*f = !*f
	return nil
}

// ParsePermission resolves a "resource.action" pair as posted by a form or
// typed on the command line.
func ParsePermission(resource, action string) (Resource, Action, error) {
	for _, spec := range Resources {
		if string(spec.Key) != resource {
			continue
		}
		for _, a := range spec.Actions {
			if string(a) == action {
				return spec.Key, a, nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: %s.%s", ErrUnknownPermission, resource, action)
}

// Matrix indexes permission sets by role. A nil Matrix means the sets have
// not been loaded yet.
type Matrix map[Role]Permissions

// NewMatrix builds a Matrix from the backend list.
func NewMatrix(sets []RolePermissionSet) Matrix {
	m := make(Matrix, len(sets))
	for _, s := range sets {
		m[s.Role] = s.Permissions
	}
	return m
}
