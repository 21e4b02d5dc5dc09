package remote

import (
	"context"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Queue wraps the audio playlist.
type Queue struct {
	log *zap.Logger
	c   ports.Caller

	Items *Observable[kodi.PlaylistItems]
}

func newQueue(log *zap.Logger, c ports.Caller) *Queue {
	return &Queue{
		log:   log.With(zap.String("facade", "queue")),
		c:     c,
		Items: NewObservable(kodi.PlaylistItems{Items: []kodi.PlaylistItem{}}),
	}
}

// Refresh fetches the queue entries.
func (q *Queue) Refresh(ctx context.Context) error {
	return q.issue(ctx)()
}

func (q *Queue) issue(ctx context.Context) func() error {
	f := q.c.Go(ctx, kodi.PlaylistGetItems{PlaylistID: kodi.AudioPlaylistID, Properties: kodi.SongPropertyNames})
	return func() error {
		var items kodi.PlaylistItems
		if err := f.Wait(&items); err != nil {
			return err
		}
		q.Items.Set(items)
		return nil
	}
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.c.FireAndForget(kodi.PlaylistClear{PlaylistID: kodi.AudioPlaylistID})
}

// AddSong appends a library song.
func (q *Queue) AddSong(songID int) {
	q.c.FireAndForget(kodi.PlaylistAdd{PlaylistID: kodi.AudioPlaylistID, Item: kodi.PlaylistEntry{SongID: songID}})
}

// AddFile appends a file path or URL.
func (q *Queue) AddFile(path string) {
	q.c.FireAndForget(kodi.PlaylistAdd{PlaylistID: kodi.AudioPlaylistID, Item: kodi.PlaylistEntry{File: path}})
}

// Remove drops the entry at position.
func (q *Queue) Remove(position int) {
	q.c.FireAndForget(kodi.PlaylistRemove{PlaylistID: kodi.AudioPlaylistID, Position: position})
}

// Swap exchanges two entries.
func (q *Queue) Swap(a, b int) {
	q.c.FireAndForget(kodi.PlaylistSwap{PlaylistID: kodi.AudioPlaylistID, Position1: a, Position2: b})
}
