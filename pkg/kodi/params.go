package kodi

import (
	"encoding/json"
	"fmt"
)

// Params is a typed parameter payload for exactly one method.
type Params interface {
	Method() string
}

// Property lists requested by the refresh calls.
var (
	ApplicationPropertyNames = []string{"volume", "muted", "name", "version"}
	PlayerPropertyNames      = []string{"speed", "time", "totaltime", "percentage", "position", "shuffled", "repeat", "partymode", "playlistid", "type"}
	ItemPropertyNames        = []string{"title", "artist", "albumartist", "album", "duration", "track", "file", "thumbnail"}
	SongPropertyNames        = []string{"title", "artist", "album", "duration", "track", "file"}
	LibraryPropertyNames     = []string{"librarylastupdated"}
)

// Switch is Kodi's bool-or-toggle parameter.
type Switch int

const (
	SwitchOff Switch = iota
	SwitchOn
	SwitchToggle
)

// SwitchOf converts a bool to a Switch.
func SwitchOf(on bool) Switch {
	if on {
		return SwitchOn
	}
	return SwitchOff
}

func (s Switch) MarshalJSON() ([]byte, error) {
	switch s {
	case SwitchOn:
		return []byte("true"), nil
	case SwitchToggle:
		return []byte(`"toggle"`), nil
	default:
		return []byte("false"), nil
	}
}

func (s *Switch) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*s = SwitchOn
	case "false":
		*s = SwitchOff
	case `"toggle"`:
		*s = SwitchToggle
	default:
		return fmt.Errorf("invalid switch value %s", data)
	}
	return nil
}

// RepeatMode is the player repeat setting.
type RepeatMode string

const (
	RepeatOff   RepeatMode = "off"
	RepeatOne   RepeatMode = "one"
	RepeatAll   RepeatMode = "all"
	RepeatCycle RepeatMode = "cycle"
)

// ParseRepeatMode validates a repeat mode string.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch mode := RepeatMode(s); mode {
	case RepeatOff, RepeatOne, RepeatAll, RepeatCycle:
		return mode, nil
	default:
		return "", fmt.Errorf("repeat must be off|one|all|cycle")
	}
}

// ApplicationGetProperties fetches host properties.
type ApplicationGetProperties struct {
	Properties []string `json:"properties"`
}

func (ApplicationGetProperties) Method() string { return MethodApplicationGetProperties }

// VolumeStep values accepted by Application.SetVolume.
const (
	VolumeIncrement = "increment"
	VolumeDecrement = "decrement"
)

// ApplicationSetVolume sets an absolute level or steps the volume when Step is set.
type ApplicationSetVolume struct {
	Level int
	Step  string
}

func (ApplicationSetVolume) Method() string { return MethodApplicationSetVolume }

func (p ApplicationSetVolume) MarshalJSON() ([]byte, error) {
	if p.Step != "" {
		return json.Marshal(map[string]any{"volume": p.Step})
	}
	return json.Marshal(map[string]any{"volume": p.Level})
}

func (p *ApplicationSetVolume) UnmarshalJSON(data []byte) error {
	var raw struct {
		Volume json.RawMessage `json:"volume"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = ApplicationSetVolume{}
	if err := json.Unmarshal(raw.Volume, &p.Level); err == nil {
		return nil
	}
	return json.Unmarshal(raw.Volume, &p.Step)
}

// ApplicationSetMute mutes, unmutes or toggles.
type ApplicationSetMute struct {
	Mute Switch `json:"mute"`
}

func (ApplicationSetMute) Method() string { return MethodApplicationSetMute }

// PlayerGetItem fetches the currently loaded item.
type PlayerGetItem struct {
	PlayerID   int      `json:"playerid"`
	Properties []string `json:"properties"`
}

func (PlayerGetItem) Method() string { return MethodPlayerGetItem }

// PlayerGetProperties fetches playback properties.
type PlayerGetProperties struct {
	PlayerID   int      `json:"playerid"`
	Properties []string `json:"properties"`
}

func (PlayerGetProperties) Method() string { return MethodPlayerGetProperties }

// PlayerPlayPause toggles or forces playback.
type PlayerPlayPause struct {
	PlayerID int    `json:"playerid"`
	Play     Switch `json:"play"`
}

func (PlayerPlayPause) Method() string { return MethodPlayerPlayPause }

// OpenItem selects what Player.Open starts.
type OpenItem struct {
	PlaylistID *int   `json:"playlistid,omitempty"`
	Position   *int   `json:"position,omitempty"`
	SongID     int    `json:"songid,omitempty"`
	File       string `json:"file,omitempty"`
}

// PlaylistPosition opens the given position of a playlist.
func PlaylistPosition(playlistID int, position int) OpenItem {
	return OpenItem{PlaylistID: &playlistID, Position: &position}
}

// PlayerOpen starts playback of an item.
type PlayerOpen struct {
	Item OpenItem `json:"item"`
}

func (PlayerOpen) Method() string { return MethodPlayerOpen }

// PlayerStop stops playback.
type PlayerStop struct {
	PlayerID int `json:"playerid"`
}

func (PlayerStop) Method() string { return MethodPlayerStop }

// GoTo step values.
const (
	GoToNext     = "next"
	GoToPrevious = "previous"
)

// PlayerGoTo jumps to a playlist position, or steps when Step is set.
type PlayerGoTo struct {
	PlayerID int
	Position int
	Step     string
}

func (PlayerGoTo) Method() string { return MethodPlayerGoTo }

func (p PlayerGoTo) MarshalJSON() ([]byte, error) {
	var to any = p.Position
	if p.Step != "" {
		to = p.Step
	}
	return json.Marshal(map[string]any{"playerid": p.PlayerID, "to": to})
}

func (p *PlayerGoTo) UnmarshalJSON(data []byte) error {
	var raw struct {
		PlayerID int             `json:"playerid"`
		To       json.RawMessage `json:"to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PlayerGoTo{PlayerID: raw.PlayerID}
	if err := json.Unmarshal(raw.To, &p.Position); err == nil {
		return nil
	}
	return json.Unmarshal(raw.To, &p.Step)
}

// SeekValue is the seek target as a percentage of the item.
type SeekValue struct {
	Percentage float64 `json:"percentage"`
}

// PlayerSeek seeks within the current item.
type PlayerSeek struct {
	PlayerID int       `json:"playerid"`
	Value    SeekValue `json:"value"`
}

func (PlayerSeek) Method() string { return MethodPlayerSeek }

// PlayerSetShuffle sets or toggles shuffle.
type PlayerSetShuffle struct {
	PlayerID int    `json:"playerid"`
	Shuffle  Switch `json:"shuffle"`
}

func (PlayerSetShuffle) Method() string { return MethodPlayerSetShuffle }

// PlayerSetPartymode sets or toggles party mode.
type PlayerSetPartymode struct {
	PlayerID  int    `json:"playerid"`
	Partymode Switch `json:"partymode"`
}

func (PlayerSetPartymode) Method() string { return MethodPlayerSetPartymode }

// PlayerSetRepeat sets the repeat mode.
type PlayerSetRepeat struct {
	PlayerID int        `json:"playerid"`
	Repeat   RepeatMode `json:"repeat"`
}

func (PlayerSetRepeat) Method() string { return MethodPlayerSetRepeat }

// PlaylistClear empties a playlist.
type PlaylistClear struct {
	PlaylistID int `json:"playlistid"`
}

func (PlaylistClear) Method() string { return MethodPlaylistClear }

// PlaylistEntry identifies what to add to a playlist.
type PlaylistEntry struct {
	SongID int    `json:"songid,omitempty"`
	File   string `json:"file,omitempty"`
}

// PlaylistAdd appends an entry.
type PlaylistAdd struct {
	PlaylistID int           `json:"playlistid"`
	Item       PlaylistEntry `json:"item"`
}

func (PlaylistAdd) Method() string { return MethodPlaylistAdd }

// PlaylistRemove removes the entry at a position.
type PlaylistRemove struct {
	PlaylistID int `json:"playlistid"`
	Position   int `json:"position"`
}

func (PlaylistRemove) Method() string { return MethodPlaylistRemove }

// PlaylistSwap swaps two entries.
type PlaylistSwap struct {
	PlaylistID int `json:"playlistid"`
	Position1  int `json:"position1"`
	Position2  int `json:"position2"`
}

func (PlaylistSwap) Method() string { return MethodPlaylistSwap }

// PlaylistGetItems fetches playlist entries.
type PlaylistGetItems struct {
	PlaylistID int      `json:"playlistid"`
	Properties []string `json:"properties"`
}

func (PlaylistGetItems) Method() string { return MethodPlaylistGetItems }

// SettingsSetSettingValue changes one Kodi setting.
type SettingsSetSettingValue struct {
	Setting string `json:"setting"`
	Value   any    `json:"value"`
}

func (SettingsSetSettingValue) Method() string { return MethodSettingsSetSettingValue }

// Limits bounds a list query.
type Limits struct {
	Start int `json:"start"`
	End   int `json:"end,omitempty"`
}

// Sort orders a list query.
type Sort struct {
	Method    string `json:"method"`
	Order     string `json:"order,omitempty"`
	IgnoreArt bool   `json:"ignorearticle,omitempty"`
}

// AudioLibraryGetSongs lists songs.
type AudioLibraryGetSongs struct {
	Properties []string `json:"properties"`
	Limits     *Limits  `json:"limits,omitempty"`
	Sort       *Sort    `json:"sort,omitempty"`
}

func (AudioLibraryGetSongs) Method() string { return MethodAudioLibraryGetSongs }

// AudioLibraryGetProperties fetches library metadata such as the last update time.
type AudioLibraryGetProperties struct {
	Properties []string `json:"properties"`
}

func (AudioLibraryGetProperties) Method() string { return MethodAudioLibraryGetProperties }

// AudioLibraryScan starts a library scan.
type AudioLibraryScan struct {
	Directory   string `json:"directory,omitempty"`
	ShowDialogs bool   `json:"showdialogs"`
}

func (AudioLibraryScan) Method() string { return MethodAudioLibraryScan }

// JSONRPCPing is the protocol-level liveness probe.
type JSONRPCPing struct{}

func (JSONRPCPing) Method() string { return MethodJSONRPCPing }
