package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/backoffice/internal/auditlog"
	"github.com/foxzi/backoffice/internal/detail"
)

var (
	logPage   int
	logAdmin  string
	logAction string
	logFrom   string
	logTo     string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log commands",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List one page of audit log entries",
	RunE:  runAuditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show <entry_id>",
	Short: "Show the details of an audit log entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

var auditActionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the values accepted by --action",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, a := range auditlog.Actions {
			fmt.Fprintf(w, "%s\t%s\n", a.Value, a.Label)
		}
		w.Flush()
	},
}

var loginsCmd = &cobra.Command{
	Use:   "logins",
	Short: "Login history commands",
}

var loginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List one page of login history",
	RunE:  runLoginsList,
}

func addLogFlags(cmd *cobra.Command, withAction bool) {
	cmd.Flags().IntVar(&logPage, "page", 1, "Page number")
	cmd.Flags().StringVar(&logAdmin, "admin", "", "Filter by admin id")
	cmd.Flags().StringVar(&logFrom, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&logTo, "to", "", "End date (YYYY-MM-DD)")
	if withAction {
		cmd.Flags().StringVar(&logAction, "action", "", "Filter by action (see 'audit actions')")
	}
}

func init() {
	addLogFlags(auditListCmd, true)
	addLogFlags(auditShowCmd, true)
	addLogFlags(loginsListCmd, false)

	auditCmd.AddCommand(auditListCmd, auditShowCmd, auditActionsCmd)
	loginsCmd.AddCommand(loginsListCmd)
	rootCmd.AddCommand(auditCmd, loginsCmd)
}

func logFilter() auditlog.Filter {
	return auditlog.Filter{
		AdminID:   logAdmin,
		Action:    logAction,
		StartDate: logFrom,
		EndDate:   logTo,
	}
}

// loadPage drives a viewer to one page and reports filter problems as a
// single error.
func loadPage(ctx context.Context, env *cliEnv, tab auditlog.Tab, page int) (*auditlog.Viewer, error) {
	v := auditlog.NewViewer(env.client, env.logger)
	err := v.Restore(ctx, tab, logFilter(), page)
	var vErr *auditlog.ValidationError
	if errors.As(err, &vErr) {
		return nil, fmt.Errorf("invalid filter: %s", fieldErrors(vErr.Fields))
	}
	if err != nil {
		return nil, authError(err)
	}
	return v, nil
}

func fieldErrors(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "; "
		}
		out += k + ": " + fields[k]
	}
	return out
}

func runAuditList(cmd *cobra.Command, args []string) error {
	return listLogs(auditlog.TabAudit)
}

func runLoginsList(cmd *cobra.Command, args []string) error {
	return listLogs(auditlog.TabLogins)
}

func listLogs(tab auditlog.Tab) error {
	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	v, err := loadPage(context.Background(), env, tab, logPage)
	if err != nil {
		return err
	}
	printLogs(os.Stdout, v.State())
	return nil
}

func printLogs(out io.Writer, s auditlog.State) {
	if len(s.Rows) == 0 {
		fmt.Fprintln(out, s.EmptyMessage())
		fmt.Fprintln(out, s.PageLabel())
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if s.Tab == auditlog.TabLogins {
		fmt.Fprintln(w, "ID\tTIME\tADMIN\tRESULT\tIP")
		fmt.Fprintln(w, "--\t----\t-----\t------\t--")
		for _, r := range s.Rows {
			result := "failed"
			if r.Success {
				result = "success"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, formatTime(r.Time), r.Admin, result, r.IPAddress)
		}
	} else {
		fmt.Fprintln(w, "ID\tTIME\tADMIN\tACTION\tTARGET\tDETAILS")
		fmt.Fprintln(w, "--\t----\t-----\t------\t------\t-------")
		for _, r := range s.Rows {
			details := "-"
			if r.HasDetails {
				details = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, formatTime(r.Time), r.Admin, r.ActionLabel(), r.Target, details)
		}
	}
	w.Flush()
	fmt.Fprintf(out, "\n%s (%d total)\n", s.PageLabel(), s.TotalItems)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return detail.NoneText
	}
	return t.Local().Format("2006-01-02 15:04")
}

// runAuditShow pages through the filtered trail until the entry is found;
// the backend has no single-entry endpoint.
func runAuditShow(cmd *cobra.Command, args []string) error {
	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	id := args[0]

	page := logPage
	for {
		v, err := loadPage(ctx, env, auditlog.TabAudit, page)
		if err != nil {
			return err
		}
		if row, ok := v.Find(auditlog.TabAudit, id); ok {
			return showEntry(ctx, env, row)
		}
		if v.State().NextDisabled() {
			return fmt.Errorf("audit log entry not found: %s", id)
		}
		page++
	}
}

func showEntry(ctx context.Context, env *cliEnv, row auditlog.Row) error {
	renderer := detail.NewRenderer(env.client, env.logger,
		detail.WithConcurrency(env.cfg.Audit.LookupConcurrency),
	)
	panel := renderer.Open(ctx, *row.Audit)
	defer panel.Close()

	waitCtx, cancel := context.WithTimeout(ctx, env.cfg.Audit.LookupWait)
	defer cancel()
	if err := panel.Wait(waitCtx); err != nil {
		env.logger.Warn("user lookups still pending", "entry", row.ID)
	}
	// Close before rendering so unfinished lookups print as raw ids.
	panel.Close()
	return detail.WriteText(os.Stdout, panel.View())
}
