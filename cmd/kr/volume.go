package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodi_remote/internal/remote"
)

// volumeAction is a parsed vol argument.
type volumeAction struct {
	level int
	step  int
}

func volumeCommand() *cobra.Command {
	var (
		mute   bool
		unmute bool
		toggle bool
	)

	cmd := &cobra.Command{
		Use:   "vol [<0..100>|up|down|+|-]",
		Short: "Set, step or mute the volume",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := 0
			for _, set := range []bool{mute, unmute, toggle} {
				if set {
					flags++
				}
			}
			if flags > 1 {
				return WrapError(ExitUsage, "use only one of --mute, --unmute, --toggle-mute", nil)
			}
			if flags == 0 && len(args) == 0 {
				return WrapError(ExitUsage, "volume value required", nil)
			}

			var action *volumeAction
			if len(args) == 1 {
				parsed, err := parseVolume(args[0])
				if err != nil {
					return WrapError(ExitUsage, "vol", err)
				}
				action = &parsed
			}

			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				switch {
				case mute, unmute:
					r.Host.SetMute(mute)
				case toggle:
					r.Host.ToggleMute()
				}
				if action == nil {
					return nil
				}
				if action.step != 0 {
					r.Host.StepVolume(action.step > 0)
					return nil
				}
				r.Host.SetVolume(action.level)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&mute, "mute", false, "mute output")
	cmd.Flags().BoolVar(&unmute, "unmute", false, "unmute output")
	cmd.Flags().BoolVar(&toggle, "toggle-mute", false, "toggle mute")
	return cmd
}

func parseVolume(arg string) (volumeAction, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "up", "+":
		return volumeAction{step: 1}, nil
	case "down", "-":
		return volumeAction{step: -1}, nil
	}
	level, err := strconv.Atoi(arg)
	if err != nil {
		return volumeAction{}, fmt.Errorf("invalid volume %q", arg)
	}
	if level < 0 || level > 100 {
		return volumeAction{}, fmt.Errorf("volume must be between 0 and 100")
	}
	return volumeAction{level: level}, nil
}
