package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smallbiznis/fintrack/internal/authclient/gateway"
	"github.com/smallbiznis/fintrack/internal/authclient/orchestrator"
)

const minPasswordLength = 6

func (a *App) signupCommand() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := validateEmail(email)
			if err != nil {
				return err
			}
			pw, err := a.readSecret(password, "Password: ")
			if err != nil {
				return err
			}
			if len(pw) < minPasswordLength {
				return validationError("Password must be at least 6 characters")
			}

			res, err := a.orch.SignUp(cmd.Context(), addr, pw, strings.TrimSpace(name))
			if err != nil {
				return err
			}
			a.print.Success("%s", res.Message)
			if res.RequiresVerification {
				a.print.Info("Check %s for a verification link.", addr)
			} else {
				a.print.Info("You can now sign in with `fintrackctl signin --email %s`.", addr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	return cmd
}

func (a *App) signinCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := validateEmail(email)
			if err != nil {
				return err
			}
			pw, err := a.readSecret(password, "Password: ")
			if err != nil {
				return err
			}
			if pw == "" {
				return validationError("Password is required")
			}

			snap, err := a.orch.SignIn(cmd.Context(), addr, pw)
			if err != nil {
				return err
			}
			if snap.State == orchestrator.Degraded {
				a.print.Warning("Signed in, but the profile could not be loaded. Run `fintrackctl status` to retry.")
				return nil
			}
			a.print.Success("Signed in as %s", displayName(snap))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	return cmd
}

func (a *App) signoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.orch.SignOut(cmd.Context()); err != nil {
				if gateway.IsKind(err, gateway.KindUpstream) {
					a.print.Warning("Signed out locally. The server could not be reached; the session will be revoked on the next attempt.")
					return nil
				}
				return err
			}
			a.print.Success("Signed out")
			return nil
		},
	}
}

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"whoami"},
		Short:   "Show the signed-in user",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.Initialize(cmd.Context())
			snap := a.orch.Snapshot()
			a.printSnapshot(snap)
			if snap.State == orchestrator.Unauthenticated && snap.Notice != orchestrator.NoticeNone {
				return nil
			}
			if err != nil && snap.State != orchestrator.Degraded {
				return err
			}
			return nil
		},
	}
}

func (a *App) verifyCommand() *cobra.Command {
	var token, linkType string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Consume an emailed verification or recovery link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				return validationError("Token is required")
			}
			switch linkType {
			case "signup", "magiclink", "recovery":
			default:
				return validationError("Type must be signup, magiclink or recovery")
			}

			res, err := a.gw.Verify(cmd.Context(), token, linkType)
			if err != nil {
				return err
			}
			if res.Session != nil {
				a.print.Success("Signed in with recovery link")
				a.print.Info("Set a new password with `fintrackctl update-password`.")
				return nil
			}
			a.print.Success("Email Verified")
			if res.Message != "" {
				a.print.Print("%s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token from the emailed link")
	cmd.Flags().StringVar(&linkType, "type", "signup", "link type: signup, magiclink or recovery")
	return cmd
}

func (a *App) resendVerificationCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "resend-verification",
		Short: "Send the verification email again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := validateEmail(email)
			if err != nil {
				return err
			}
			msg, err := a.gw.ResendVerification(cmd.Context(), addr)
			if err != nil {
				return err
			}
			a.print.Success("%s", msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *App) resetPasswordCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := validateEmail(email)
			if err != nil {
				return err
			}
			msg, err := a.orch.ResetPassword(cmd.Context(), addr)
			if err != nil {
				return err
			}
			a.print.Success("%s", msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *App) updatePasswordCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "update-password",
		Short: "Change the signed-in user's password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.readSecret(password, "New password: ")
			if err != nil {
				return err
			}
			if len(pw) < minPasswordLength {
				return validationError("Password must be at least 6 characters")
			}
			if err := a.orch.UpdatePassword(cmd.Context(), pw); err != nil {
				return err
			}
			a.print.Success("Password updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	return cmd
}

func (a *App) printSnapshot(snap orchestrator.Snapshot) {
	if snap.Notice != orchestrator.NoticeNone {
		a.print.Warning("%s", snap.Notice.Message())
	}
	a.print.Field("State", a.print.Badge(snap.State.String()))
	if snap.Identity == nil {
		return
	}
	a.print.Field("User", displayName(snap))
	a.print.Field("Email", snap.Identity.Email)
	a.print.Field("User ID", snap.Identity.ID)
	if snap.Profile != nil {
		role := "member"
		if snap.Profile.IsAdmin {
			role = "admin"
		}
		a.print.Field("Role", role)
	}
	if snap.Session != nil {
		a.print.Field("Expires", formatTime(snap.Session.ExpiresAt))
	}
	if snap.State == orchestrator.Degraded {
		a.print.Warning("The server could not be reached; showing the last known profile.")
	}
}

func displayName(snap orchestrator.Snapshot) string {
	if snap.Profile != nil && snap.Profile.FullName != "" {
		return snap.Profile.FullName
	}
	if snap.Identity != nil {
		return snap.Identity.FullName()
	}
	return ""
}

var errMissingUserID = errors.New("user id is required")
