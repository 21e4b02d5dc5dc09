package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodi_remote/internal/adapters/output"
	"github.com/mikey-austin/kodi_remote/internal/remote"
)

func queueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the music queue",
	}
	cmd.AddCommand(queueListCommand())
	cmd.AddCommand(queueAddCommand())
	cmd.AddCommand(queuePositionCommand("rm <position>", "Remove the entry at position", func(r *remote.Remote, pos int) { r.Queue.Remove(pos) }))
	cmd.AddCommand(queuePositionCommand("play <position>", "Start playback at position", func(r *remote.Remote, pos int) { r.Player.PlayPosition(pos) }))
	cmd.AddCommand(queueSwapCommand())
	cmd.AddCommand(simpleCommand("clear", "Remove every entry", func(r *remote.Remote) { r.Queue.Clear() }))
	return cmd
}

func queueListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the queue",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				position := -1
				if r.Player.Item.Get().Item.Loaded() {
					position = r.Player.Properties.Get().Position
				}
				return app.printer.Print(output.QueueOutput{
					Items:    r.Queue.Items.Get().Items,
					Position: position,
				})
			})
		},
	}
}

func queueAddCommand() *cobra.Command {
	var (
		songID int
		file   string
	)

	cmd := &cobra.Command{
		Use:   "add (--song <id> | --file <path>)",
		Short: "Append a library song or a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (songID > 0) == (file != "") {
				return WrapError(ExitUsage, "set exactly one of --song or --file", nil)
			}
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				if songID > 0 {
					r.Queue.AddSong(songID)
				} else {
					r.Queue.AddFile(file)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&songID, "song", 0, "library song id")
	cmd.Flags().StringVar(&file, "file", "", "file path or URL")
	return cmd
}

func queuePositionCommand(use, short string, fn func(*remote.Remote, int)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[0])
			if err != nil {
				return err
			}
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				fn(r, pos)
				return nil
			})
		},
	}
}

func queueSwapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "swap <position> <position>",
		Short: "Swap two entries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parsePosition(args[0])
			if err != nil {
				return err
			}
			b, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				r.Queue.Swap(a, b)
				return nil
			})
		},
	}
}

func parsePosition(arg string) (int, error) {
	pos, err := strconv.Atoi(arg)
	if err != nil || pos < 0 {
		return 0, WrapError(ExitUsage, "position must be a non-negative integer", err)
	}
	return pos, nil
}
