package remote

import (
	"github.com/mikey-austin/kodi_remote/internal/session"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Status is a combined view of every snapshot.
type Status struct {
	Session      session.Snapshot           `json:"session"`
	Host         kodi.ApplicationProperties `json:"host"`
	Item         kodi.Item                  `json:"item"`
	Playback     kodi.PlayerProperties      `json:"playback"`
	Queue        []kodi.PlaylistItem        `json:"queue"`
	LibrarySongs int                        `json:"librarySongs"`
	Scanning     bool                       `json:"scanning"`
	Navigation   NavigationState            `json:"navigation"`
}

// Status collects the current snapshots.
func (r *Remote) Status() Status {
	return Status{
		Session:      r.Machine.Snapshot(),
		Host:         r.Host.Properties.Get(),
		Item:         r.Player.Item.Get().Item,
		Playback:     r.Player.Properties.Get(),
		Queue:        r.Queue.Items.Get().Items,
		LibrarySongs: len(r.Library.Songs.Get().Songs),
		Scanning:     r.Library.Scanning.Get(),
		Navigation:   r.Navigation.State.Get(),
	}
}

// OnChange calls fn whenever the session state or any snapshot changes. The
// returned function removes every registration.
func (r *Remote) OnChange(fn func()) func() {
	unsubs := []func(){
		r.Machine.Subscribe(func(session.State) { fn() }),
		r.Host.Properties.Subscribe(func(kodi.ApplicationProperties) { fn() }),
		r.Player.Item.Subscribe(func(kodi.PlayerItem) { fn() }),
		r.Player.Properties.Subscribe(func(kodi.PlayerProperties) { fn() }),
		r.Queue.Items.Subscribe(func(kodi.PlaylistItems) { fn() }),
		r.Library.Songs.Subscribe(func(kodi.LibrarySongs) { fn() }),
		r.Library.Scanning.Subscribe(func(bool) { fn() }),
		r.Navigation.State.Subscribe(func(NavigationState) { fn() }),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
