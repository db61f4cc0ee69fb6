package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"github.com/smallbiznis/fintrack/internal/authclient/orchestrator"
)

func (a *App) profileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update profiles",
	}
	cmd.AddCommand(a.profileGetCommand(), a.profileUpdateCommand())
	return cmd
}

func (a *App) profileGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [user-id]",
		Short: "Show your profile, or another user's as an admin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && args[0] != "me" {
				profile, err := a.gw.GetUserProfile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.printProfile(*profile)
				return nil
			}

			if err := a.orch.Initialize(cmd.Context()); err != nil && a.orch.Snapshot().State != orchestrator.Degraded {
				return err
			}
			snap := a.orch.Snapshot()
			if snap.Profile == nil {
				return orchestrator.ErrNotSignedIn
			}
			a.printProfile(*snap.Profile)
			return nil
		},
	}
}

func (a *App) profileUpdateCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var update domain.ProfileUpdate
			if cmd.Flags().Changed("name") {
				trimmed := strings.TrimSpace(name)
				if trimmed == "" {
					return validationError("Full name cannot be empty")
				}
				update.FullName = &trimmed
			}
			if update.FullName == nil {
				return validationError("Nothing to update")
			}

			if err := a.orch.Initialize(cmd.Context()); err != nil && a.orch.Snapshot().State != orchestrator.Degraded {
				return err
			}
			profile, err := a.orch.UpdateProfile(cmd.Context(), update)
			if err != nil {
				return err
			}
			a.print.Success("Profile updated")
			a.printProfile(*profile)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	return cmd
}

func (a *App) defaultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Opt in to the default categories and payment methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.gw.InitializeDefaults(cmd.Context())
			if err != nil {
				return err
			}
			a.print.Success("Defaults initialized successfully")
			a.print.Field("Categories", itoa(stats.Categories))
			a.print.Field("Payment methods", itoa(stats.PaymentMethods))
			return nil
		},
	}
}

func (a *App) printProfile(p domain.UserProfile) {
	a.print.Field("ID", p.ID)
	a.print.Field("Email", p.Email)
	a.print.Field("Name", p.FullName)
	a.print.Field("Admin", yesNo(p.IsAdmin))
	status := "active"
	if !p.IsActive {
		status = "inactive"
	}
	a.print.Field("Status", a.print.Badge(status))
}
