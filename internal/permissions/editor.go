package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/metrics"
)

var (
	// ErrBusy is returned while a save is in flight.
	ErrBusy = errors.New("save in progress")
	// ErrNoChanges is returned by Save and Reset on a clean draft.
	ErrNoChanges = errors.New("no unsaved changes")
	// ErrNotLoaded is returned before the first successful Load.
	ErrNotLoaded = errors.New("role permissions not loaded")
)

// ValidationError is a draft rejected before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return backend.ErrValidation
}

// Source reads and writes role permission sets. *backend.Client satisfies it.
type Source interface {
	ListRolePermissions(ctx context.Context) ([]access.RolePermissionSet, error)
	UpdateRolePermissions(ctx context.Context, role access.Role, perms access.Permissions) (*access.RolePermissionSet, error)
}

// State is the editor's position in its lifecycle.
type State int

const (
	StateViewing State = iota
	StateEditing
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	default:
		return "viewing"
	}
}

// Editor holds the draft permission set of the active role and tracks it
// against the snapshot taken when the role was selected.
type Editor struct {
	src    Source
	logger *slog.Logger

	mu       sync.Mutex
	matrix   access.Matrix
	role     access.Role
	original access.Permissions
	draft    access.Permissions
	edited   bool
	saving   bool
	errMsg   string
	notice   string
}

// NewEditor creates an editor. Nothing is fetched until Load.
func NewEditor(src Source, logger *slog.Logger) *Editor {
	return &Editor{src: src, logger: logger}
}

// Load fetches every role's set. A clean draft is re-snapshotted from the
// fresh data; a dirty draft is kept as is.
func (e *Editor) Load(ctx context.Context) error {
	if err := e.reload(ctx); err != nil {
		e.mu.Lock()
		e.errMsg = "Failed to load role permissions."
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *Editor) reload(ctx context.Context) error {
	sets, err := e.src.ListRolePermissions(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("load role permissions: %w", err)
	}

	e.matrix = access.NewMatrix(sets)
	if e.role == "" {
		e.role = defaultRole(e.matrix)
	}
	if !e.dirty() && !e.saving {
		e.original = e.matrix[e.role]
		e.draft = e.original
	}
	e.errMsg = ""
	return nil
}

// defaultRole is the first editable role with a stored set.
func defaultRole(m access.Matrix) access.Role {
	for _, r := range access.Roles {
		if _, ok := m[r]; ok && !r.ReadOnly() {
			return r
		}
	}
	return access.RoleAdmin
}

func (e *Editor) dirty() bool {
	return e.draft != e.original
}

// SelectRole makes role active. With unsaved changes, confirm decides
// whether they are discarded; declining keeps role and draft and returns
// false.
func (e *Editor) SelectRole(role access.Role, confirm func() bool) (bool, error) {
	if !role.Valid() {
		return false, &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matrix == nil {
		return false, ErrNotLoaded
	}
	if e.saving {
		return false, ErrBusy
	}
	if role == e.role {
		return true, nil
	}
	if e.dirty() && (confirm == nil || !confirm()) {
		return false, nil
	}

	e.role = role
	e.original = e.matrix[role]
	e.draft = e.original
	e.edited = false
	e.errMsg = ""
	e.notice = ""
	return true, nil
}

// Toggle flips one flag of the draft.
func (e *Editor) Toggle(res access.Resource, act access.Action) error {
	return e.edit(func(p *access.Permissions) error { return p.Toggle(res, act) })
}

// Set assigns one flag of the draft.
func (e *Editor) Set(res access.Resource, act access.Action, v bool) error {
	return e.edit(func(p *access.Permissions) error { return p.Set(res, act, v) })
}

func (e *Editor) edit(fn func(p *access.Permissions) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matrix == nil {
		return ErrNotLoaded
	}
	if e.saving {
		return ErrBusy
	}
	if e.role.ReadOnly() {
		return fmt.Errorf("%w: %s", backend.ErrReadOnlyRole, e.role)
	}

	draft := e.draft
	if err := fn(&draft); err != nil {
		return &ValidationError{Field: "permission", Message: err.Error()}
	}
	e.draft = draft
	e.edited = true
	e.notice = ""
	return nil
}

// Reset restores the draft to the snapshot.
func (e *Editor) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.saving {
		return ErrBusy
	}
	if e.role.ReadOnly() {
		return fmt.Errorf("%w: %s", backend.ErrReadOnlyRole, e.role)
	}
	if !e.dirty() {
		return ErrNoChanges
	}
	e.draft = e.original
	e.edited = false
	e.errMsg = ""
	return nil
}

func (e *Editor) validate() error {
	if e.role == "" {
		return &ValidationError{Field: "role", Message: "no role selected"}
	}
	if !e.role.Valid() {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", e.role)}
	}
	if _, ok := e.matrix[e.role]; !ok {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("no permission set stored for %s", e.role)}
	}
	return nil
}

// Save submits the whole draft of the active role. On success the draft
// becomes the snapshot and every role is re-fetched. On failure the draft
// is kept and the error is recorded for display.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.matrix == nil {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	if e.saving {
		e.mu.Unlock()
		return ErrBusy
	}
	if e.role.ReadOnly() {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", backend.ErrReadOnlyRole, e.role)
	}
	if !e.dirty() {
		e.mu.Unlock()
		return ErrNoChanges
	}
	if err := e.validate(); err != nil {
		e.errMsg = err.Error()
		e.mu.Unlock()
		return err
	}

	role, draft := e.role, e.draft
	e.saving = true
	e.errMsg = ""
	e.mu.Unlock()

	_, err := e.src.UpdateRolePermissions(ctx, role, draft)

	e.mu.Lock()
	e.saving = false
	if err != nil {
		e.errMsg = "Failed to save permissions: " + err.Error()
		e.mu.Unlock()
		metrics.IncPermissionSave(string(role), "error")
		e.logger.Error("failed to save role permissions", "role", role, "error", err)
		return fmt.Errorf("save %s permissions: %w", role, err)
	}
	e.original = draft
	e.matrix[role] = draft
	e.edited = false
	e.notice = fmt.Sprintf("Permissions for %s saved.", role)
	e.mu.Unlock()

	metrics.IncPermissionSave(string(role), "success")
	e.logger.Info("role permissions saved", "role", role)

	if err := e.reload(ctx); err != nil {
		e.logger.Warn("failed to refresh role permissions after save", "error", err)
		if backend.IsAuthError(err) {
			return err
		}
		e.mu.Lock()
		e.notice += " The role list could not be refreshed."
		e.mu.Unlock()
	}
	return nil
}

// ClearError dismisses the page-level error.
func (e *Editor) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errMsg = ""
}

// Cell is one checkbox of the matrix.
type Cell struct {
	Resource access.Resource
	Action   access.Action
	Checked  bool
	Changed  bool
	Disabled bool
}

// Row is one resource line of the matrix.
type Row struct {
	Resource access.ResourceSpec
	Cells    []Cell
}

// View is a consistent copy of the editor for rendering.
type View struct {
	Loaded   bool
	Roles    []access.Role
	Role     access.Role
	State    State
	Original access.Permissions
	Draft    access.Permissions
	Dirty    bool
	ReadOnly bool
	// ShowActions is false for SuperAdmin: Save and Reset are not rendered.
	ShowActions bool
	CanSave     bool
	CanReset    bool
	Error       string
	Notice      string
	Rows        []Row
}

// Snapshot returns the current view.
func (e *Editor) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		Loaded:   e.matrix != nil,
		Roles:    access.Roles,
		Role:     e.role,
		Original: e.original,
		Draft:    e.draft,
		Dirty:    e.dirty(),
		ReadOnly: e.role.ReadOnly(),
		Error:    e.errMsg,
		Notice:   e.notice,
	}

	switch {
	case e.saving:
		v.State = StateSaving
	case e.edited || v.Dirty:
		v.State = StateEditing
	default:
		v.State = StateViewing
	}

	v.ShowActions = !v.ReadOnly
	v.CanSave = v.ShowActions && v.Dirty && !e.saving
	v.CanReset = v.ShowActions && v.Dirty && !e.saving

	for _, spec := range access.Resources {
		row := Row{Resource: spec}
		for _, act := range spec.Actions {
			checked := e.draft.Allowed(spec.Key, act)
			row.Cells = append(row.Cells, Cell{
				Resource: spec.Key,
				Action:   act,
				Checked:  checked,
				Changed:  checked != e.original.Allowed(spec.Key, act),
				Disabled: v.ReadOnly || e.saving,
			})
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}

// Matrix returns a copy of the last fetched sets.
func (e *Editor) Matrix() access.Matrix {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.matrix == nil {
		return nil
	}
	out := make(access.Matrix, len(e.matrix))
	for k, v := range e.matrix {
		out[k] = v
	}
	return out
}
