package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smallbiznis/fintrack/internal/authclient/console"
)

func (a *App) adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin session and user management",
	}
	cmd.AddCommand(
		a.adminSessionsCommand(),
		a.adminRevokeCommand(),
		a.adminSetActiveCommand("activate", true),
		a.adminSetActiveCommand("deactivate", false),
		a.adminDeleteCommand(),
	)
	return cmd
}

func (a *App) adminSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.console.Load(cmd.Context())
			if err != nil {
				return err
			}
			return a.printSessions(view)
		},
	}
}

func (a *App) adminRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			if userID == "" {
				return errMissingUserID
			}
			res, err := a.console.Revoke(cmd.Context(), userID)
			if err != nil {
				return err
			}
			a.print.Success("Revoked %d session%s", res.Count, plural(res.Count))
			return a.printSessions(res.View)
		},
	}
}

func (a *App) adminSetActiveCommand(use string, active bool) *cobra.Command {
	short := "Reactivate a user"
	if !active {
		short = "Deactivate a user; their clients sign out on the next liveness check"
	}
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := a.gw.SetUserActive(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}
			a.print.Success("User %s %sd", profile.Email, use)
			return nil
		},
	}
}

func (a *App) adminDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user with their profile and sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return validationError("Pass --yes to confirm deleting the user")
			}
			if err := a.gw.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.print.Success("User deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func (a *App) printSessions(view console.View) error {
	if len(view.Sessions) == 0 {
		a.print.Info("No active sessions")
	} else {
		table := NewTable(a.out, []string{"User", "Email", "Status", "Started", "Last activity", "Expires in"})
		for _, s := range view.Sessions {
			name := s.FullName
			if name == "" {
				name = s.UserID
			}
			if !s.UserIsActive {
				name += " " + a.print.Dim("(inactive)")
			}
			table.AddRow(
				name,
				s.Email,
				a.print.Badge(s.Status),
				formatTime(s.SessionStarted),
				formatTime(s.LastActivity),
				formatDuration(s.HoursUntilExpiry),
			)
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("render sessions: %w", err)
		}
	}

	if view.Stats == nil {
		return nil
	}
	a.print.Header("Summary")
	a.print.Field("Sessions", fmt.Sprintf("%d", view.Stats.TotalActiveSessions))
	a.print.Field("Users", fmt.Sprintf("%d", view.Stats.UniqueActiveUsers))
	a.print.Field("Expiring soon", fmt.Sprintf("%d", view.Stats.SessionsExpiringSoon))
	a.print.Field("Average age", formatDuration(view.Stats.AvgSessionAgeHours))
	return nil
}
