package auditlog

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/backoffice/internal/backend"
)

// PageSize is the fixed number of rows per page.
const PageSize = 10

// DateLayout is the format of the start and end date filters.
const DateLayout = "2006-01-02"

// Tab selects one of the two log collections.
type Tab string

const (
	TabAudit  Tab = "audit"
	TabLogins Tab = "logins"
)

// ParseTab maps a URL segment or flag value to a Tab; anything unknown is
// the audit tab.
func ParseTab(s string) Tab {
	if Tab(s) == TabLogins {
		return TabLogins
	}
	return TabAudit
}

// Label is the tab caption.
func (t Tab) Label() string {
	if t == TabLogins {
		return "Login History"
	}
	return "Audit Logs"
}

// ActionOption is one entry of the action filter.
type ActionOption struct {
	Value string
	Label string
}

// Actions is the fixed action filter set of the audit tab.
var Actions = []ActionOption{
	{Value: "create_lead", Label: "Create Lead"},
	{Value: "update_lead", Label: "Update Lead"},
	{Value: "delete_lead", Label: "Delete Lead"},
	{Value: "create_admin", Label: "Create Admin"},
	{Value: "update_admin", Label: "Update Admin"},
	{Value: "delete_admin", Label: "Delete Admin"},
}

func validAction(a string) bool {
	for _, opt := range Actions {
		if opt.Value == a {
			return true
		}
	}
	return false
}

// Filter holds the user-entered filters. Empty fields are not sent.
type Filter struct {
	AdminID   string
	Action    string
	StartDate string
	EndDate   string
}

// Normalize trims every field.
func (f Filter) Normalize() Filter {
	return Filter{
		AdminID:   strings.TrimSpace(f.AdminID),
		Action:    strings.TrimSpace(f.Action),
		StartDate: strings.TrimSpace(f.StartDate),
		EndDate:   strings.TrimSpace(f.EndDate),
	}
}

// IsEmpty reports whether no filter field is set.
func (f Filter) IsEmpty() bool {
	n := f.Normalize()
	return n.AdminID == "" && n.Action == "" && n.StartDate == "" && n.EndDate == ""
}

// ForTab drops the fields the tab does not support. The viewer keeps the
// full filter and applies ForTab only to what it sends and validates.
func (f Filter) ForTab(tab Tab) Filter {
	if tab == TabLogins {
		f.Action = ""
	}
	return f
}

// ValidationError lists invalid filter fields keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid filter: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return backend.ErrValidation
}

// Validate checks the filter for tab. It returns a *ValidationError.
func (f Filter) Validate(tab Tab) error {
	f = f.Normalize().ForTab(tab)
	fields := map[string]string{}

	if f.Action != "" && !validAction(f.Action) {
		fields["action"] = fmt.Sprintf("Unknown action %q.", f.Action)
	}

	var start, end time.Time
	var err error
	if f.StartDate != "" {
		if start, err = time.Parse(DateLayout, f.StartDate); err != nil {
			fields["startDate"] = "Start date must be YYYY-MM-DD."
		}
	}
	if f.EndDate != "" {
		if end, err = time.Parse(DateLayout, f.EndDate); err != nil {
			fields["endDate"] = "End date must be YYYY-MM-DD."
		}
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		fields["endDate"] = "End date must be on or after the start date."
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Query encodes tab, filter and page as URL parameters for links. The
// action filter is kept on the login tab so it survives a round trip.
func Query(tab Tab, f Filter, page int) url.Values {
	v := url.Values{}
	v.Set("tab", string(tab))
	f = f.Normalize()
	if f.AdminID != "" {
		v.Set("adminId", f.AdminID)
	}
	if f.Action != "" {
		v.Set("action", f.Action)
	}
	if f.StartDate != "" {
		v.Set("startDate", f.StartDate)
	}
	if f.EndDate != "" {
		v.Set("endDate", f.EndDate)
	}
	if page > 1 {
		v.Set("page", strconv.Itoa(page))
	}
	return v
}

// ParseQuery is the inverse of Query.
func ParseQuery(v url.Values) (Tab, Filter, int) {
	page, _ := strconv.Atoi(v.Get("page"))
	if page < 1 {
		page = 1
	}
	f := Filter{
		AdminID:   v.Get("adminId"),
		Action:    v.Get("action"),
		StartDate: v.Get("startDate"),
		EndDate:   v.Get("endDate"),
	}
	return ParseTab(v.Get("tab")), f.Normalize(), page
}
