package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *App) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and print every auth state change",
		Long: `watch restores the stored session and runs the liveness check on the configured
interval (FINTRACK_LIVENESS_INTERVAL, default 5m) until interrupted. A user deactivated or
deleted by an admin is signed out on the next check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			updates, cancel := a.orch.Watch()
			defer cancel()

			if err := a.orch.Initialize(ctx); err != nil {
				a.log.Debug("initialize failed", zap.Error(err))
			}
			a.printSnapshot(a.orch.Snapshot())
			a.print.Info("Watching session every %s. Press Ctrl+C to stop.", a.cfg.LivenessInterval)
			drain(updates)

			for {
				select {
				case <-ctx.Done():
					return nil
				case snap, ok := <-updates:
					if !ok {
						return nil
					}
					a.print.Header(formatTime(time.Now()))
					a.printSnapshot(snap)
				}
			}
		},
	}
}
