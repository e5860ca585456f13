package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/permissions"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Role permission commands",
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the permission matrix of every role",
	RunE:  runRolesList,
}

var rolesShowCmd = &cobra.Command{
	Use:   "show <role>",
	Short: "Show the permissions of one role",
	Args:  cobra.ExactArgs(1),
	RunE:  runRolesShow,
}

var rolesSetCmd = &cobra.Command{
	Use:   "set <role> <resource.action=true|false>...",
	Short: "Change permissions of a role and save the whole set",
	Example: `  backoffice roles set Admin auditLogs.view=true users.delete=false
  backoffice roles set ViewMode leads.read`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRolesSet,
}

func init() {
	rolesCmd.AddCommand(rolesListCmd, rolesShowCmd, rolesSetCmd)
	rootCmd.AddCommand(rolesCmd)
}

// loadEditor returns an editor with every role's set fetched.
func loadEditor(ctx context.Context, env *cliEnv) (*permissions.Editor, error) {
	ed := permissions.NewEditor(env.client, env.logger)
	if err := ed.Load(ctx); err != nil {
		return nil, authError(err)
	}
	return ed, nil
}

func runRolesList(cmd *cobra.Command, args []string) error {
	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	ed, err := loadEditor(context.Background(), env)
	if err != nil {
		return err
	}
	printMatrix(os.Stdout, ed.Matrix())
	return nil
}

func printMatrix(out io.Writer, m access.Matrix) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := []string{"PERMISSION"}
	for _, r := range access.Roles {
		header = append(header, string(r))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, spec := range access.Resources {
		for _, act := range spec.Actions {
			line := []string{string(spec.Key) + "." + string(act)}
			for _, r := range access.Roles {
				line = append(line, mark(r == access.RoleSuperAdmin || m[r].Allowed(spec.Key, act)))
			}
			fmt.Fprintln(w, strings.Join(line, "\t"))
		}
	}
	w.Flush()
}

func mark(v bool) string {
	if v {
		return "yes"
	}
	return "-"
}

func runRolesShow(cmd *cobra.Command, args []string) error {
	role, err := access.ParseRole(args[0])
	if err != nil {
		return err
	}

	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	ed, err := loadEditor(context.Background(), env)
	if err != nil {
		return err
	}
	if _, err := ed.SelectRole(role, nil); err != nil {
		return err
	}
	printView(os.Stdout, ed.Snapshot())
	return nil
}

func printView(out io.Writer, v permissions.View) {
	fmt.Fprintf(out, "Role: %s\n", v.Role)
	if v.ReadOnly {
		fmt.Fprintf(out, "%s permissions cannot be changed.\n", v.Role)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, row := range v.Rows {
		var cells []string
		for _, c := range row.Cells {
			box := "[ ]"
			if c.Checked {
				box = "[x]"
			}
			if c.Changed {
				box += "*"
			}
			cells = append(cells, box+" "+string(c.Action))
		}
		fmt.Fprintf(w, "%s\t%s\n", row.Resource.Label, strings.Join(cells, "  "))
	}
	w.Flush()
}

// assignment is one "resource.action=value" argument.
type assignment struct {
	resource access.Resource
	action   access.Action
	value    bool
}

func parseAssignments(args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		key, raw, hasValue := strings.Cut(arg, "=")
		value := true
		if hasValue {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid value in %q: %w", arg, err)
			}
			value = v
		}

		resource, action, ok := strings.Cut(key, ".")
		if !ok {
			return nil, fmt.Errorf("invalid permission %q (want resource.action)", key)
		}
		res, act, err := access.ParsePermission(resource, action)
		if err != nil {
			return nil, err
		}
		out = append(out, assignment{resource: res, action: act, value: value})
	}
	return out, nil
}

func runRolesSet(cmd *cobra.Command, args []string) error {
	role, err := access.ParseRole(args[0])
	if err != nil {
		return err
	}
	changes, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}

	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	ed, err := loadEditor(ctx, env)
	if err != nil {
		return err
	}
	if _, err := ed.SelectRole(role, nil); err != nil {
		return err
	}
	for _, c := range changes {
		if err := ed.Set(c.resource, c.action, c.value); err != nil {
			return err
		}
	}

	v := ed.Snapshot()
	if !v.Dirty {
		fmt.Println("No changes")
		return nil
	}
	printView(os.Stdout, v)
	fmt.Println()

	if err := ed.Save(ctx); err != nil {
		return authError(err)
	}
	fmt.Println(ed.Snapshot().Notice)
	return nil
}
