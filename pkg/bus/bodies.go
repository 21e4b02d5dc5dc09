package bus

import (
	"fmt"
	"strings"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// SwitchBody is the payload for shuffle, partymode and mute. Mode is on, off or toggle.
type SwitchBody struct {
	Mode string `json:"mode"`
}

// SeekBody is the payload for playback.seek.
type SeekBody struct {
	Percentage float64 `json:"percentage"`
}

// RepeatBody is the payload for playback.repeat.
type RepeatBody struct {
	Mode string `json:"mode"`
}

// VolumeSetBody is the payload for volume.set. Step is "up" or "down" and wins over Volume.
type VolumeSetBody struct {
	Volume *int   `json:"volume,omitempty"`
	Step   string `json:"step,omitempty"`
}

// QueueAddBody is the payload for queue.add.
type QueueAddBody struct {
	SongID int    `json:"songId,omitempty"`
	File   string `json:"file,omitempty"`
}

// QueuePositionBody is the payload for queue.remove and queue.play.
type QueuePositionBody struct {
	Position int `json:"position"`
}

// QueueSwapBody is the payload for queue.swap.
type QueueSwapBody struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ParseSwitch converts a mode string. An empty mode toggles.
func ParseSwitch(mode string) (kodi.Switch, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "toggle":
		return kodi.SwitchToggle, nil
	case "on", "true":
		return kodi.SwitchOn, nil
	case "off", "false":
		return kodi.SwitchOff, nil
	default:
		return kodi.SwitchToggle, fmt.Errorf("invalid mode %q", mode)
	}
}
