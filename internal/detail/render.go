package detail

import (
	"reflect"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/foxzi/backoffice/internal/backend"
)

// Diff labels.
const (
	PreviousLabel = "Previous"
	UpdatedLabel  = "Updated"
	ChangedLabel  = "Changed"
)

// Strategy names the branch that produced a view.
type Strategy string

const (
	StrategyFieldDiff     Strategy = "field-diff"
	StrategyAdminSnapshot Strategy = "admin-snapshot"
	StrategySetting       Strategy = "setting"
	StrategyGeneric       Strategy = "generic"
	StrategyLogin         Strategy = "login"
)

// Row is one line of the detail view: either a Previous/Updated pair or a
// single informational value.
type Row struct {
	Key      string
	Label    string
	Diff     bool
	Previous Value
	Updated  Value
	Changed  bool
	Value    Value
}

// View is the rendered detail of one log entry.
type View struct {
	ID          string
	Action      string
	ActionLabel string
	Admin       string
	Target      string
	Time        time.Time
	Strategy    Strategy
	Description string
	Rows        []Row
	// Pending is true while any user card is still loading.
	Pending bool
}

// userFields hold admin references: user objects or bare ids.
var userFields = []string{"assignedTo"}

// fieldRenderers are per-field printers applied in every branch.
var fieldRenderers = map[string]func(p printer, v any) Value{}

func init() {
	for _, f := range userFields {
		fieldRenderers[f] = printer.user
	}
}

func isUserField(key string) bool {
	for _, f := range userFields {
		if f == key {
			return true
		}
	}
	return false
}

// deletedAdminFields is the snapshot kept by delete_admin entries.
var deletedAdminFields = []struct {
	key  string
	date bool
}{
	{key: "username"},
	{key: "email"},
	{key: "role"},
	{key: "location"},
	{key: "deletedAt", date: true},
	{key: "adminId"},
}

type strategy struct {
	name   Strategy
	match  func(action string, md map[string]any) bool
	render func(p printer, md map[string]any, v *View)
}

// strategies are tried in order; the first match renders the entry.
var strategies = []strategy{
	{name: StrategyFieldDiff, match: hasUpdateFields, render: renderUpdateFields},
	{name: StrategyAdminSnapshot, match: actionIs("delete_admin"), render: renderDeletedAdmin},
	{name: StrategySetting, match: actionIs("update_setting"), render: renderSetting},
}

func actionIs(name string) func(string, map[string]any) bool {
	return func(action string, _ map[string]any) bool { return action == name }
}

func hasUpdateFields(action string, md map[string]any) bool {
	if !strings.HasPrefix(action, "update_") {
		return false
	}
	_, ok := md["updateFields"].(map[string]any)
	return ok
}

// pair extracts an {oldValue, newValue} shape.
func pair(v any) (old, updated any, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return nil, nil, false
	}
	old, hasOld := m["oldValue"]
	updated, hasNew := m["newValue"]
	if !hasOld && !hasNew {
		return nil, nil, false
	}
	return old, updated, true
}

// diffRow is the single parameterised before/after routine.
func (p printer) diffRow(key, label string, old, updated any) Row {
	return Row{
		Key:      key,
		Label:    label,
		Diff:     true,
		Previous: p.field(key, old),
		Updated:  p.field(key, updated),
		Changed:  !reflect.DeepEqual(old, updated),
	}
}

func (p printer) valueRow(key string, v any) Row {
	return Row{Key: key, Label: Humanize(key), Value: p.field(key, v)}
}

func (p printer) row(key string, v any) Row {
	if old, updated, ok := pair(v); ok {
		return p.diffRow(key, Humanize(key), old, updated)
	}
	return p.valueRow(key, v)
}

func renderUpdateFields(p printer, md map[string]any, v *View) {
	fields := md["updateFields"].(map[string]any)
	for _, k := range sortedKeys(fields) {
		v.Rows = append(v.Rows, p.row(k, fields[k]))
	}
}

func renderDeletedAdmin(p printer, md map[string]any, v *View) {
	for _, f := range deletedAdminFields {
		val := md[f.key]
		row := Row{Key: f.key, Label: Humanize(f.key)}
		if f.date {
			row.Value = p.date(val)
		} else {
			row.Value = p.field(f.key, val)
		}
		v.Rows = append(v.Rows, row)
	}
}

func renderSetting(p printer, md map[string]any, v *View) {
	name, _ := md["settingName"].(string)
	if name == "" {
		renderGeneric(p, md, v)
		return
	}
	v.Rows = append(v.Rows, p.diffRow(name, Humanize(name), md["oldValue"], md["newValue"]))
	if desc, ok := md["description"].(string); ok {
		v.Description = desc
	}
}

func renderGeneric(p printer, md map[string]any, v *View) {
	for _, k := range sortedKeys(md) {
		v.Rows = append(v.Rows, p.valueRow(k, md[k]))
	}
}

// ActionLabel humanises an action name.
func ActionLabel(action string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(action, "_", " "))
}

// Render builds the detail view of an audit entry. users may be nil, in which
// case bare user ids print as they are.
func Render(e backend.AuditLogEntry, users Resolver, loc *time.Location) View {
	p := printer{users: users, loc: loc}
	v := View{
		ID:          e.ID,
		Action:      e.Action,
		ActionLabel: ActionLabel(e.Action),
		Admin:       e.Admin.Display(),
		Target:      e.Target,
		Time:        e.CreatedAt,
		Strategy:    StrategyGeneric,
	}

	md := e.Metadata
	matched := false
	for _, s := range strategies {
		if s.match(e.Action, md) {
			v.Strategy = s.name
			s.render(p, md, &v)
			matched = true
			break
		}
	}
	if !matched {
		renderGeneric(p, md, &v)
	}

	v.Pending = hasPending(v.Rows)
	return v
}

// RenderLogin builds the detail view of a login history entry.
func RenderLogin(e backend.LoginHistoryEntry, loc *time.Location) View {
	p := printer{loc: loc}
	status := "Failed"
	if e.Success {
		status = "Successful"
	}
	action := "login_failed"
	if e.Success {
		action = "login"
	}
	return View{
		ID:          e.ID,
		Action:      action,
		ActionLabel: ActionLabel(action),
		Admin:       e.Admin.Display(),
		Time:        e.LoginAt,
		Strategy:    StrategyLogin,
		Rows: []Row{
			{Key: "status", Label: "Status", Value: Value{Kind: KindText, Text: status}},
			{Key: "ipAddress", Label: Humanize("ipAddress"), Value: p.value(e.IPAddress)},
			{Key: "userAgent", Label: Humanize("userAgent"), Value: p.value(e.UserAgent)},
			{Key: "loginAt", Label: Humanize("loginAt"), Value: p.dateValue(e.LoginAt)},
		},
	}
}

func hasPending(rows []Row) bool {
	for _, r := range rows {
		if pendingValue(r.Value) || pendingValue(r.Previous) || pendingValue(r.Updated) {
			return true
		}
	}
	return false
}

func pendingValue(v Value) bool {
	if v.Kind == KindUserPending {
		return true
	}
	for _, item := range v.Items {
		if pendingValue(item) {
			return true
		}
	}
	for _, f := range v.Fields {
		if pendingValue(f.Value) {
			return true
		}
	}
	return false
}

// UserRefs lists the distinct bare user ids an entry refers to through
// fields with a user renderer, in first-seen order.
func UserRefs(e backend.AuditLogEntry) []string {
	seen := map[string]bool{}
	var ids []string
	var walk func(key string, v any)
	walk = func(key string, v any) {
		switch x := v.(type) {
		case string:
			if x != "" && isUserField(key) && !seen[x] {
				seen[x] = true
				ids = append(ids, x)
			}
		case map[string]any:
			if old, updated, ok := pair(x); ok {
				walk(key, old)
				walk(key, updated)
				return
			}
			for _, k := range sortedKeys(x) {
				walk(k, x[k])
			}
		case []any:
			for _, item := range x {
				walk(key, item)
			}
		}
	}
	for _, k := range sortedKeys(e.Metadata) {
		walk(k, e.Metadata[k])
	}
	return ids
}
