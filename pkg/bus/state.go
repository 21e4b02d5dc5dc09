package bus

import "github.com/mikey-austin/kodi_remote/pkg/kodi"

// BridgeState is the retained state of a bridged Kodi session.
type BridgeState struct {
	Session      SessionState               `json:"session"`
	Host         kodi.ApplicationProperties `json:"host"`
	Item         kodi.Item                  `json:"item"`
	Playback     kodi.PlayerProperties      `json:"playback"`
	Queue        []kodi.PlaylistItem        `json:"queue"`
	LibrarySongs int                        `json:"librarySongs"`
	Scanning     bool                       `json:"scanning"`
	Navigation   NavigationState            `json:"navigation"`
	TS           int64                      `json:"ts"`
}

// SessionState summarises the connection to Kodi.
type SessionState struct {
	State        string `json:"state"`
	Endpoint     string `json:"endpoint"`
	LastActivity int64  `json:"lastActivity,omitempty"`
	Pending      int    `json:"pending"`
}

// NavigationState lists the sections a UI should show.
type NavigationState struct {
	Sections []string `json:"sections"`
	Selected string   `json:"selected"`
}
