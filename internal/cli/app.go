// Package cli implements fintrackctl, a terminal client for the fintrack identity provider.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smallbiznis/fintrack/internal/authclient/console"
	"github.com/smallbiznis/fintrack/internal/authclient/gateway"
	"github.com/smallbiznis/fintrack/internal/authclient/orchestrator"
	"github.com/smallbiznis/fintrack/internal/authclient/profilecache"
	"github.com/smallbiznis/fintrack/internal/authclient/sessionstore"
)

var version = "dev"

func SetVersion(v string) { version = v }

// App holds the wiring shared by every command. Components are built in setup, after
// flags are parsed.
type App struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	v       *viper.Viper
	cfgFile string
	cfg     Config

	log     *zap.Logger
	print   *Printer
	store   *sessionstore.FileStore
	gw      *gateway.Gateway
	orch    *orchestrator.Orchestrator
	console *console.Console
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{in: in, out: out, errOut: errOut, v: newViper()}
}

// Execute runs fintrackctl and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	app := NewApp(os.Stdin, os.Stdout, os.Stderr)
	defer app.Close()
	return app.Run(ctx, args)
}

func (a *App) Run(ctx context.Context, args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		a.report(err)
		return 1
	}
	return 0
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fintrackctl",
		Short: "Sign in to fintrack and manage sessions",
		Long: `fintrackctl talks to a fintrack server to sign up, sign in and manage the
signed-in user's profile. Admins can list and revoke active sessions.

Example usage:
  fintrackctl signup --email alice@example.com --name Alice
  fintrackctl signin --email alice@example.com
  fintrackctl status
  fintrackctl admin sessions`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $FINTRACK_HOME/config.yaml)")
	flags.String("server-url", "", "fintrack server URL")
	flags.String("home", "", "directory holding the stored session")
	flags.String("origin", "", "origin sent with email-link requests")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.String("color", "", "color output: auto, always or never")

	_ = a.v.BindPFlag("server_url", flags.Lookup("server-url"))
	_ = a.v.BindPFlag("home", flags.Lookup("home"))
	_ = a.v.BindPFlag("origin", flags.Lookup("origin"))
	_ = a.v.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = a.v.BindPFlag("color", flags.Lookup("color"))

	root.AddCommand(
		a.signupCommand(),
		a.signinCommand(),
		a.signoutCommand(),
		a.statusCommand(),
		a.verifyCommand(),
		a.resendVerificationCommand(),
		a.resetPasswordCommand(),
		a.updatePasswordCommand(),
		a.profileCommand(),
		a.defaultsCommand(),
		a.adminCommand(),
		a.watchCommand(),
	)
	return root
}

func (a *App) setup() error {
	cfg, err := loadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(cfg.Verbose, a.errOut)
	mode, _ := parseColorMode(cfg.Color)
	a.print = NewPrinter(a.out, a.errOut, resolveColors(mode))

	store, err := sessionstore.NewFileStore(cfg.Home)
	if err != nil {
		return err
	}
	a.store = store

	gw, err := gateway.New(gateway.Params{
		Config: gateway.Config{BaseURL: cfg.ServerURL, Origin: cfg.Origin},
		Store:  store,
		Log:    a.log,
	})
	if err != nil {
		return err
	}
	a.gw = gw
	a.orch = orchestrator.New(orchestrator.Params{
		Gateway: gw,
		Store:   store,
		Cache:   profilecache.New(nil),
		Log:     a.log,
		Config:  orchestrator.Config{LivenessInterval: cfg.LivenessInterval},
	})
	a.console = console.New(gw, a.log)

	a.log.Debug("configuration loaded",
		zap.String("server_url", cfg.ServerURL),
		zap.String("home", cfg.Home),
		zap.Duration("liveness_interval", cfg.LivenessInterval))
	return nil
}

func (a *App) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.gw != nil {
		a.gw.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *App) report(err error) {
	msg := userMessage(err)
	if a.print == nil {
		fmt.Fprintf(a.errOut, "Error: %s\n", msg)
		return
	}
	if a.log != nil {
		a.log.Debug("command failed", zap.Error(err))
	}
	a.print.Error("%s", msg)
}

// userMessage keeps terminal output short; the full error is only logged.
func userMessage(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrAccountDeactivated):
		return orchestrator.NoticeAccountDeactivated.Message()
	case errors.Is(err, orchestrator.ErrSessionExpired):
		return orchestrator.NoticeSessionExpired.Message()
	case errors.Is(err, orchestrator.ErrNotSignedIn):
		return "Not signed in"
	case errors.Is(err, console.ErrRevokeInProgress):
		return "Sessions for this user are already being revoked"
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gateway.Message(err)
	}
	return err.Error()
}

func newLogger(verbose bool, w io.Writer) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

func validationError(message string) error {
	return &gateway.Error{Kind: gateway.KindValidation, Message: message}
}

func validateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", validationError("Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", validationError("Invalid email address")
	}
	return strings.ToLower(email), nil
}

// readSecret returns flagValue or reads one line from stdin after prompting on stderr.
func (a *App) readSecret(flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(a.errOut, prompt)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
