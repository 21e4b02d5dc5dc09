package remote

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Library wraps the audio library.
type Library struct {
	log *zap.Logger
	c   ports.Caller

	Songs    *Observable[kodi.LibrarySongs]
	Scanning *Observable[bool]

	mu          sync.Mutex
	lastUpdated string
}

func newLibrary(log *zap.Logger, c ports.Caller) *Library {
	return &Library{
		log:      log.With(zap.String("facade", "library")),
		c:        c,
		Songs:    NewObservable(kodi.LibrarySongs{Songs: []kodi.Song{}}),
		Scanning: NewObservable(false),
	}
}

// Load fetches every song, ordered by artist, and records the library's
// freshness so a later Validate only reloads on change.
func (l *Library) Load(ctx context.Context) error {
	if err := l.loadSongs(ctx); err != nil {
		return err
	}
	lastUpdated, err := l.lastUpdatedAt(ctx)
	if err != nil {
		l.log.Debug("library freshness unavailable", zap.Error(err))
		return nil
	}
	l.mu.Lock()
	l.lastUpdated = lastUpdated
	l.mu.Unlock()
	return nil
}

// Validate reloads the songs when the library changed since the last check.
// It reports whether a reload happened.
func (l *Library) Validate(ctx context.Context) (bool, error) {
	lastUpdated, err := l.lastUpdatedAt(ctx)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	changed := lastUpdated != l.lastUpdated
	l.lastUpdated = lastUpdated
	l.mu.Unlock()
	if !changed {
		return false, nil
	}
	l.log.Debug("library changed", zap.String("last_updated", lastUpdated))
	return true, l.loadSongs(ctx)
}

func (l *Library) loadSongs(ctx context.Context) error {
	var songs kodi.LibrarySongs
	err := l.c.Call(ctx, kodi.AudioLibraryGetSongs{
		Properties: kodi.SongPropertyNames,
		Sort:       &kodi.Sort{Method: "artist", Order: "ascending", IgnoreArt: true},
	}, &songs)
	if err != nil {
		return err
	}
	l.Songs.Set(songs)
	return nil
}

func (l *Library) lastUpdatedAt(ctx context.Context) (string, error) {
	var props kodi.LibraryProperties
	if err := l.c.Call(ctx, kodi.AudioLibraryGetProperties{Properties: kodi.LibraryPropertyNames}, &props); err != nil {
		return "", err
	}
	return props.LastUpdated, nil
}

// Scan asks Kodi to rescan its sources.
func (l *Library) Scan() {
	l.c.FireAndForget(kodi.AudioLibraryScan{})
}

func (l *Library) setScanning(on bool) {
	l.Scanning.Set(on)
}
