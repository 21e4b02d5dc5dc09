package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/adapters/output"
	"github.com/mikey-austin/kodi_remote/internal/remote"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show host, playback and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				return app.printer.Print(r.Status())
			})
		},
	}
}

func watchCommand() *cobra.Command {
	var retry time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print status on every change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			openCtx, cancel := withTimeout(ctx, app.timeout)
			r, err := app.open(openCtx)
			cancel()
			if err != nil {
				return err
			}
			defer r.Close()

			changed := make(chan struct{}, 1)
			unsubscribe := r.OnChange(func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()

			if err := app.printer.Print(r.Status()); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					if err := app.printer.Print(r.Status()); err != nil {
						return err
					}
				case alert := <-r.Machine.Alerts():
					app.log.Warn("kodi unavailable", zap.Error(alert), zap.Duration("retry_in", retry))
					if err := app.printer.Print(output.Message(alert.Error())); err != nil {
						return err
					}
					if retry > 0 && alert.RetryIn == 0 {
						go retryAfter(ctx, app.log, r.Machine, retry)
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&retry, "retry", 5*time.Second, "reconnect delay after the session fails (0 disables)")
	return cmd
}

type retrier interface {
	Retry(ctx context.Context) error
}

func retryAfter(ctx context.Context, log *zap.Logger, m retrier, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
		if err := m.Retry(ctx); err != nil && !errors.Is(err, kodi.ErrNotConnected) {
			log.Debug("retry failed", zap.Error(err))
		}
	}
}
