package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodi_remote/internal/adapters/output"
	"github.com/mikey-austin/kodi_remote/internal/remote"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

func libraryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Browse and scan the music library",
	}
	cmd.AddCommand(librarySongsCommand())
	cmd.AddCommand(simpleCommand("scan", "Start a library scan", func(r *remote.Remote) { r.Library.Scan() }))
	return cmd
}

func librarySongsCommand() *cobra.Command {
	var (
		filter string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "songs",
		Short: "List library songs sorted by artist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			return app.run(cmd, func(_ context.Context, r *remote.Remote) error {
				songs := filterSongs(r.Library.Songs.Get().Songs, filter, limit)
				return app.printer.Print(output.SongsOutput{Songs: songs})
			})
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "case-insensitive match on title, artist or album")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum songs to list (0 lists all)")
	return cmd
}

func filterSongs(songs []kodi.Song, filter string, limit int) []kodi.Song {
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]kodi.Song, 0, len(songs))
	for _, song := range songs {
		if filter != "" && !songMatches(song, filter) {
			continue
		}
		out = append(out, song)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func songMatches(song kodi.Song, filter string) bool {
	fields := append([]string{song.Title, song.Label, song.Album}, song.Artist...)
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), filter) {
			return true
		}
	}
	return false
}
