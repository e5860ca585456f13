package detail

import (
	"fmt"
	"io"
	"strings"
)

// WriteText prints v as indented plain text.
func WriteText(w io.Writer, v View) error {
	tw := &textWriter{w: w}
	tw.printf("%s\n", v.ActionLabel)
	tw.printf("  ID:     %s\n", v.ID)
	tw.printf("  Admin:  %s\n", v.Admin)
	if v.Target != "" {
		tw.printf("  Target: %s\n", v.Target)
	}
	if !v.Time.IsZero() {
		tw.printf("  Time:   %s\n", v.Time.Format(DateTimeLayout))
	}
	if v.Description != "" {
		tw.printf("  %s\n", v.Description)
	}
	tw.printf("\n")

	if len(v.Rows) == 0 {
		tw.printf("  No additional details.\n")
		return tw.err
	}
	for _, r := range v.Rows {
		if r.Diff {
			badge := ""
			if r.Changed {
				badge = " [" + ChangedLabel + "]"
			}
			tw.printf("  %s%s\n", r.Label, badge)
			tw.value(2, PreviousLabel, r.Previous)
			tw.value(2, UpdatedLabel, r.Updated)
			continue
		}
		tw.value(1, r.Label, r.Value)
	}
	return tw.err
}

type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

func (t *textWriter) value(depth int, label string, v Value) {
	pad := strings.Repeat("  ", depth)
	switch v.Kind {
	case KindList:
		if len(v.Items) == 0 {
			t.printf("%s%s: %s\n", pad, label, EmptyText)
			return
		}
		t.printf("%s%s:\n", pad, label)
		for i, item := range v.Items {
			t.value(depth+1, fmt.Sprintf("%d", i+1), item)
		}
	case KindObject:
		if len(v.Fields) == 0 {
			t.printf("%s%s: %s\n", pad, label, EmptyText)
			return
		}
		t.printf("%s%s:\n", pad, label)
		for _, f := range v.Fields {
			t.value(depth+1, f.Label, f.Value)
		}
	case KindUser:
		t.printf("%s%s: %s <%s> (%s)\n", pad, label, v.User.Username, v.User.Email, v.User.Role)
	case KindUserPending:
		t.printf("%s%s: %s (%s)\n", pad, label, v.Text, v.User.ID)
	default:
		t.printf("%s%s: %s\n", pad, label, v.Text)
	}
}
