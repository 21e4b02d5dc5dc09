package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/adapters/config"
	"github.com/mikey-austin/kodi_remote/internal/adapters/output"
	"github.com/mikey-austin/kodi_remote/internal/adapters/transport"
	"github.com/mikey-austin/kodi_remote/internal/remote"
)

type app struct {
	cfg     config.Config
	log     *zap.Logger
	printer output.Printer
	host    string
	json    bool
	timeout time.Duration
}

func main() {
	root := rootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(ExitCode(err))
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "kr",
		Short:         "Kodi remote control",
		SilenceUsage: true,
	}

	var (
		host    string
		timeout time.Duration
		jsonOut bool
		verbose bool
	)

	root.PersistentFlags().StringVarP(&host, "host", "H", "", "kodi host name from config, or a hostname")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapError(ExitUsage, "invalid flags", err)
	})

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return WrapError(ExitUsage, "load config", err)
		}

		log := zap.NewNop()
		if verbose {
			if log, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			cfg:     cfg,
			log:     log,
			printer: output.New(cmd.OutOrStdout(), jsonOut),
			host:    host,
			json:    jsonOut,
			timeout: timeout,
		}))
		return nil
	}

	root.AddCommand(statusCommand())
	root.AddCommand(watchCommand())
	root.AddCommand(playCommand())
	root.AddCommand(pauseCommand())
	root.AddCommand(toggleCommand())
	root.AddCommand(stopCommand())
	root.AddCommand(nextCommand())
	root.AddCommand(prevCommand())
	root.AddCommand(seekCommand())
	root.AddCommand(shuffleCommand())
	root.AddCommand(repeatCommand())
	root.AddCommand(partymodeCommand())
	root.AddCommand(volumeCommand())
	root.AddCommand(queueCommand())
	root.AddCommand(libraryCommand())
	root.AddCommand(settingCommand())
	root.AddCommand(discoverCommand())
	root.AddCommand(bridgeCommand())
	return root
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// open connects to the selected host and waits for the entry sequence.
// The caller closes the returned remote.
func (a *app) open(ctx context.Context) (*remote.Remote, error) {
	ep, err := a.cfg.ResolveHost(a.host)
	if err != nil {
		return nil, WrapError(ExitUsage, "resolve host", err)
	}
	opts, err := a.cfg.Client.Options(ep)
	if err != nil {
		return nil, WrapError(ExitUsage, "client config", err)
	}
	// One-shot invocations never retry in the background.
	opts.Session.RetryInitial = 0

	r := remote.New(a.log, transport.New(a.log.With(zap.String("component", "transport")), transport.Options{}), opts)
	if err := r.Connect(ctx); err != nil {
		r.Close()
		return nil, classify(fmt.Sprintf("connect %s", ep), err)
	}
	if err := r.WaitReady(ctx); err != nil {
		r.Close()
		return nil, classify(fmt.Sprintf("connect %s", ep), err)
	}
	return r, nil
}

// run opens a session, runs fn and closes the session after pending one-shot
// requests have been sent.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, r *remote.Remote) error) error {
	ctx, cancel := withTimeout(cmd.Context(), a.timeout)
	defer cancel()

	r, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(ctx, r)
}
