package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodi_remote/internal/adapters/discovery"
	"github.com/mikey-austin/kodi_remote/internal/adapters/output"
)

func discoverCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find Kodi hosts on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), wait+app.timeout)
			defer cancel()

			hosts, err := discovery.NewBrowser(app.log, wait).Browse(ctx)
			if err != nil {
				return WrapError(ExitRuntime, "discover", err)
			}
			return app.printer.Print(output.HostsOutput{Hosts: hosts})
		},
	}

	cmd.Flags().DurationVarP(&wait, "wait", "w", 3*time.Second, "how long to wait for answers")
	return cmd
}
