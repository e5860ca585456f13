package access

import (
	"context"
	"log/slog"
)

// Section is a named region of the console guarded by the gate.
type Section string

const (
	SectionUsers           Section = "users"
	SectionLeads           Section = "leads"
	SectionAdmins          Section = "admins"
	SectionAnalytics       Section = "analytics"
	SectionAuditLogs       Section = "audit-logs"
	SectionSettings        Section = "settings"
	SectionRolePermissions Section = "role-permissions"
)

type sectionRule struct {
	resource       Resource
	action         Action
	superAdminOnly bool
}

var sectionRules = map[Section]sectionRule{
	SectionUsers:           {resource: ResourceUsers, action: ActionRead},
	SectionLeads:           {resource: ResourceLeads, action: ActionRead},
	SectionAdmins:          {resource: ResourceAdmins, action: ActionRead},
	SectionAnalytics:       {resource: ResourceAnalytics, action: ActionView},
	SectionAuditLogs:       {resource: ResourceAuditLogs, action: ActionView},
	SectionSettings:        {superAdminOnly: true},
	SectionRolePermissions: {superAdminOnly: true},
}

// Decision is the tri-state outcome of a gate check. The zero value is
// DecisionUnknown so that nothing reads as denied before data arrives.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionAllowed
	DecisionDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Copy shown in place of a denied section.
const (
	RestrictedTitle   = "Access Restricted"
	RestrictedMessage = "You do not have permission to view this section. Please contact a SuperAdmin."
)

// Decide evaluates a section for a role against a loaded matrix.
func Decide(role Role, section Section, m Matrix) Decision {
	if role == RoleSuperAdmin {
		return DecisionAllowed
	}
	if m == nil {
		return DecisionUnknown
	}
	rule, ok := sectionRules[section]
	if !ok || rule.superAdminOnly {
		return DecisionDenied
	}
	perms, ok := m[role]
	if !ok {
		return DecisionDenied
	}
	if perms.Allowed(rule.resource, rule.action) {
		return DecisionAllowed
	}
	return DecisionDenied
}

// PermissionSource fetches every role's permission set.
type PermissionSource interface {
	ListRolePermissions(ctx context.Context) ([]RolePermissionSet, error)
}

// Gate resolves section access for the caller's role.
type Gate struct {
	logger *slog.Logger
}

// NewGate creates a gate.
func NewGate(logger *slog.Logger) *Gate {
	return &Gate{logger: logger}
}

// Check returns the decision for role on section. SuperAdmin never triggers a
// fetch. A failed fetch yields DecisionUnknown together with the error.
func (g *Gate) Check(ctx context.Context, src PermissionSource, role Role, section Section) (Decision, error) {
	if role == RoleSuperAdmin {
		return DecisionAllowed, nil
	}
	sets, err := src.ListRolePermissions(ctx)
	if err != nil {
		g.logger.Warn("permission lookup failed", "role", role, "section", section, "error", err)
		return DecisionUnknown, err
	}
	d := Decide(role, section, NewMatrix(sets))
	g.logger.Debug("access decision", "role", role, "section", section, "decision", d)
	return d, nil
}
