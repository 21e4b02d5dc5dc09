package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodi_remote/internal/remote"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// simpleCommand builds a command that issues one fire-and-forget request.
func simpleCommand(use, short string, fn func(r *remote.Remote)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				fn(r)
				return nil
			})
		},
	}
}

func playCommand() *cobra.Command {
	var position int

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Resume playback, or start the queue at --position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				if cmd.Flags().Changed("position") {
					if position < 0 {
						return WrapError(ExitUsage, "position must not be negative", nil)
					}
					r.Player.PlayPosition(position)
					return nil
				}
				r.Player.SetPlaying(true)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&position, "position", 0, "queue position")
	return cmd
}

func pauseCommand() *cobra.Command {
	return simpleCommand("pause", "Pause playback", func(r *remote.Remote) { r.Player.SetPlaying(false) })
}

func toggleCommand() *cobra.Command {
	return simpleCommand("toggle", "Toggle play/pause", func(r *remote.Remote) { r.Player.PlayPause() })
}

func stopCommand() *cobra.Command {
	return simpleCommand("stop", "Stop playback", func(r *remote.Remote) { r.Player.Stop() })
}

func nextCommand() *cobra.Command {
	return simpleCommand("next", "Skip to the next item", func(r *remote.Remote) { r.Player.Next() })
}

func prevCommand() *cobra.Command {
	return simpleCommand("prev", "Go back to the previous item", func(r *remote.Remote) { r.Player.Previous() })
}

func seekCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seek <percent>",
		Short: "Seek within the current item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			percent, err := parsePercent(args[0])
			if err != nil {
				return WrapError(ExitUsage, "seek", err)
			}
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				r.Player.Seek(percent)
				return nil
			})
		},
	}
}

func shuffleCommand() *cobra.Command {
	return switchCommand("shuffle", "Set or toggle shuffle", func(r *remote.Remote, s kodi.Switch) { r.Player.SetShuffle(s) })
}

func partymodeCommand() *cobra.Command {
	return switchCommand("partymode", "Set or toggle party mode", func(r *remote.Remote, s kodi.Switch) { r.Player.SetPartymode(s) })
}

func switchCommand(name, short string, fn func(*remote.Remote, kodi.Switch)) *cobra.Command {
	return &cobra.Command{
		Use:       name + " [on|off|toggle]",
		Short:     short,
		Args:      cobra.RangeArgs(0, 1),
		ValidArgs: []string{"on", "off", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := ""
			if len(args) == 1 {
				mode = args[0]
			}
			s, err := bus.ParseSwitch(mode)
			if err != nil {
				return WrapError(ExitUsage, name, err)
			}
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				fn(r, s)
				return nil
			})
		},
	}
}

func repeatCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "repeat <off|one|all|cycle>",
		Short:     "Set the repeat mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"off", "one", "all", "cycle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := kodi.ParseRepeatMode(strings.ToLower(args[0]))
			if err != nil {
				return WrapError(ExitUsage, "repeat", err)
			}
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				r.Player.SetRepeat(mode)
				return nil
			})
		},
	}
}

func parsePercent(arg string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(arg), "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q", arg)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("percentage must be between 0 and 100")
	}
	return value, nil
}
