package main

import (
	"fmt"
	"sort"

	"farmcore/internal/access"
	"farmcore/pkg/domain"

	"github.com/spf13/cobra"
)

func newUsersCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage accounts and roles"}
	cmd.AddCommand(
		newUserCreateCmd(state),
		&cobra.Command{
			Use:   "list",
			Short: "List accounts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				accounts, err := state.app.svc.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), accounts)
			},
		},
		&cobra.Command{
			Use:   "show <username>",
			Short: "Show an account with groups and capabilities",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				acc, err := state.app.svc.FindUserByUsername(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acc)
			},
		},
		&cobra.Command{
			Use:   "set-role <username> <role>",
			Short: "Change a user's role and resynchronize access",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc := state.app.svc
				acc, err := svc.FindUserByUsername(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				outcome, err := svc.ChangeRole(cmd.Context(), acc.User.ID, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), outcome)
			},
		},
		&cobra.Command{
			Use:   "sync <username>",
			Short: "Recompute a user's groups and flags from the stored role",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc := state.app.svc
				acc, err := svc.FindUserByUsername(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				outcome, err := svc.SyncUser(cmd.Context(), acc.User.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), outcome)
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Resynchronize every user",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				report, err := state.app.svc.ReconcileAll(cmd.Context())
				if perr := printJSON(cmd.OutOrStdout(), map[string]any{
					"checked": report.Checked,
					"changed": report.Changed,
					"failed":  len(report.Failed),
				}); perr != nil {
					return perr
				}
				return err
			},
		},
	)
	return cmd
}

func newUserCreateCmd(state *cliState) *cobra.Command {
	var (
		d    domain.UserDraft
		role string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account; the first account becomes admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != "" {
				r, err := access.ParseRole(role)
				if err != nil {
					return err
				}
				d.Role = r
			}
			acc, err := state.app.svc.CreateUser(cmd.Context(), d)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	}
	f := cmd.Flags()
	f.StringVar(&d.Username, "username", "", "Login name")
	f.StringVar(&d.Email, "email", "", "Email address")
	f.StringVar(&d.FirstName, "first-name", "", "First name")
	f.StringVar(&d.LastName, "last-name", "", "Last name")
	f.StringVar(&role, "role", "", "Initial role (ignored for the first account)")
	f.StringVar(&d.Profile.PhoneNumber, "phone", "", "Phone number")
	f.StringVar(&d.Profile.EmployeeID, "employee-id", "", "Employee ID")
	f.StringVar(&d.Profile.WeeklyTasks, "tasks", "", "Comma separated weekly tasks")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newGroupsCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{Use: "groups", Short: "Manage access groups"}
	cmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Create any missing managed group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			created, err := state.app.svc.SetupGroups(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"created": created, "managed": access.ManagedGroups()})
		},
	})
	return cmd
}

func newCanCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "can <username> <operation>",
		Short: "Check whether a user may perform an operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := state.app.svc
			acc, err := svc.FindUserByUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := svc.Authorize(cmd.Context(), acc.User.ID, access.Operation(args[1])); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s may %s\n", acc.User.Username, args[1])
			return err
		},
	}
}

// policy needs no store, so it bypasses the pre-run wiring.
func newPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the role permission matrix",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			matrix := access.Policy()
			roles := make([]string, 0, len(matrix))
			for role := range matrix {
				roles = append(roles, string(role))
			}
			sort.Strings(roles)
			out := make(map[string][]string, len(matrix))
			for _, role := range roles {
				var allowed []string
				for _, op := range access.Operations() {
					if matrix[domain.Role(role)][op] {
						allowed = append(allowed, string(op))
					}
				}
				out[role] = allowed
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
