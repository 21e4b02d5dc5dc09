package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodi_remote/internal/adapters/output"
	"github.com/mikey-austin/kodi_remote/internal/remote"
)

func settingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setting",
		Short: "Change Kodi settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a setting; JSON values are sent typed, anything else as a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], settingValue(args[1])
			app := fromContext(cmd)
			return app.run(cmd, func(ctx context.Context, r *remote.Remote) error {
				if err := r.Settings.Set(ctx, key, value); err != nil {
					return classify("set "+key, err)
				}
				return app.printer.Print(output.Message("ok"))
			})
		},
	})
	return cmd
}

func settingValue(arg string) any {
	var value any
	if err := json.Unmarshal([]byte(arg), &value); err == nil {
		return value
	}
	return arg
}
