package detail

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Placeholder copy.
const (
	NoneText        = "None"
	EmptyText       = "Empty"
	EnabledText     = "Enabled"
	DisabledText    = "Disabled"
	LoadingUserText = "Loading user details…"
)

// DateTimeLayout formats detected timestamps.
const DateTimeLayout = "Jan 2, 2006, 3:04:05 PM"

// Kind tells templates how to draw a Value.
type Kind int

const (
	KindNull Kind = iota
	KindEmpty
	KindBool
	KindNumber
	KindText
	KindDate
	KindList
	KindObject
	KindUser
	KindUserPending
)

var kindNames = map[Kind]string{
	KindNull:        "null",
	KindEmpty:       "empty",
	KindBool:        "bool",
	KindNumber:      "number",
	KindText:        "text",
	KindDate:        "date",
	KindList:        "list",
	KindObject:      "object",
	KindUser:        "user",
	KindUserPending: "user-pending",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// User is a resolved admin reference.
type User struct {
	ID       string
	Username string
	Email    string
	Role     string
}

// Value is one printable node. Scalars carry their display text in Text;
// lists and objects carry children.
type Value struct {
	Kind   Kind
	Text   string
	Bool   bool
	Time   time.Time
	Items  []Value
	Fields []Field
	User   *User
}

// Field is one key of an object value.
type Field struct {
	Key   string
	Label string
	Value Value
}

// IsComposite reports whether the value has children.
func (v Value) IsComposite() bool {
	return v.Kind == KindList || v.Kind == KindObject
}

// Is is a template helper: {{if .Is "user"}}.
func (v Value) Is(kind string) bool {
	return v.Kind.String() == kind
}

// Resolver answers user lookups for bare ids. pending is true while a lookup
// is still in flight; a nil user with pending false means the id could not be
// resolved.
type Resolver interface {
	Resolve(id string) (u *User, pending bool)
}

type printer struct {
	users Resolver
	loc   *time.Location
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseDate(s string) (time.Time, bool) {
	if !isoDate.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// value prints any decoded JSON value.
func (p printer) value(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{Kind: KindNull, Text: NoneText}
	case string:
		if x == "" {
			return Value{Kind: KindEmpty, Text: EmptyText}
		}
		if t, ok := parseDate(x); ok {
			return p.dateValue(t)
		}
		return Value{Kind: KindText, Text: x}
	case bool:
		if x {
			return Value{Kind: KindBool, Bool: true, Text: EnabledText}
		}
		return Value{Kind: KindBool, Text: DisabledText}
	case float64:
		return Value{Kind: KindNumber, Text: strconv.FormatFloat(x, 'f', -1, 64)}
	case int:
		return Value{Kind: KindNumber, Text: strconv.Itoa(x)}
	case int64:
		return Value{Kind: KindNumber, Text: strconv.FormatInt(x, 10)}
	case json.Number:
		return Value{Kind: KindNumber, Text: x.String()}
	case []any:
		out := Value{Kind: KindList}
		for _, item := range x {
			out.Items = append(out.Items, p.value(item))
		}
		return out
	case map[string]any:
		out := Value{Kind: KindObject}
		for _, k := range sortedKeys(x) {
			out.Fields = append(out.Fields, Field{Key: k, Label: Humanize(k), Value: p.field(k, x[k])})
		}
		return out
	default:
		return Value{Kind: KindText, Text: fmt.Sprint(x)}
	}
}

func (p printer) dateValue(t time.Time) Value {
	loc := p.loc
	if loc == nil {
		loc = time.Local
	}
	return Value{Kind: KindDate, Time: t, Text: t.In(loc).Format(DateTimeLayout)}
}

// date prints v as a timestamp when it parses as one, whatever its shape.
func (p printer) date(v any) Value {
	if s, ok := v.(string); ok && s != "" {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return p.dateValue(t)
			}
		}
	}
	return p.value(v)
}

// field prints v through the special renderer registered for key, if any.
func (p printer) field(key string, v any) Value {
	if fn, ok := fieldRenderers[key]; ok {
		return fn(p, v)
	}
	return p.value(v)
}

// user prints an admin reference: an embedded object becomes a user card,
// a bare id is looked up through the resolver.
func (p printer) user(v any) Value {
	switch x := v.(type) {
	case string:
		if x == "" {
			return p.value(x)
		}
		if p.users == nil {
			return Value{Kind: KindText, Text: x}
		}
		u, pending := p.users.Resolve(x)
		switch {
		case u != nil:
			return Value{Kind: KindUser, User: u, Text: u.label()}
		case pending:
			return Value{Kind: KindUserPending, Text: LoadingUserText, User: &User{ID: x}}
		default:
			return Value{Kind: KindText, Text: x}
		}
	case map[string]any:
		if u, ok := userFromMap(x); ok {
			return Value{Kind: KindUser, User: u, Text: u.label()}
		}
	case []any:
		out := Value{Kind: KindList}
		for _, item := range x {
			out.Items = append(out.Items, p.user(item))
		}
		return out
	}
	return p.value(v)
}

func (u *User) label() string {
	if u.Username != "" {
		return u.Username
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

func userFromMap(m map[string]any) (*User, bool) {
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	u := &User{
		ID:       str("id"),
		Username: str("username"),
		Email:    str("email"),
		Role:     str("role"),
	}
	if u.ID == "" {
		u.ID = str("_id")
	}
	if u.Username == "" && u.Email == "" {
		return nil, false
	}
	return u, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var acronyms = map[string]string{
	"id":  "ID",
	"ip":  "IP",
	"url": "URL",
	"api": "API",
}

// Humanize turns camelCase, snake_case and kebab-case keys into Title Case
// words: "maxLeadsToDisplay" is "Max Leads To Display", "ip_address" is
// "IP Address".
func Humanize(key string) string {
	words := splitWords(key)
	if len(words) == 0 {
		return key
	}
	title := cases.Title(language.English)
	for i, w := range words {
		if a, ok := acronyms[strings.ToLower(w)]; ok {
			words[i] = a
			continue
		}
		if isUpper(w) && len(w) > 1 {
			continue
		}
		words[i] = title.String(w)
	}
	return strings.Join(words, " ")
}

func isUpper(s string) bool {
	for _, r := range s {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
