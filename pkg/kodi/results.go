package kodi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppVersion is the Kodi version reported by Application.GetProperties.
type AppVersion struct {
	Major    int    `json:"major"`
	Minor    int    `json:"minor"`
	Tag      string `json:"tag,omitempty"`
	Revision string `json:"revision,omitempty"`
}

func (v AppVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ApplicationProperties is the host snapshot. An absent name defaults to "Kodi".
type ApplicationProperties struct {
	Volume  int        `json:"volume"`
	Muted   bool       `json:"muted"`
	Name    string     `json:"name"`
	Version AppVersion `json:"version"`
}

func (p *ApplicationProperties) ApplyDefaults() {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = "Kodi"
	}
}

func (p ApplicationProperties) Validate() error {
	if p.Volume < 0 || p.Volume > 100 {
		return fmt.Errorf("volume %d out of range", p.Volume)
	}
	return nil
}

// TimeValue is Kodi's split time representation.
type TimeValue struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	Seconds      int `json:"seconds"`
	Milliseconds int `json:"milliseconds"`
}

// Duration converts the value to a time.Duration.
func (t TimeValue) Duration() time.Duration {
	return time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Seconds)*time.Second +
		time.Duration(t.Milliseconds)*time.Millisecond
}

// Item is the currently loaded media item. An absent type defaults to "unknown".
type Item struct {
	ID          int      `json:"id,omitempty"`
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Title       string   `json:"title,omitempty"`
	Artist      []string `json:"artist,omitempty"`
	AlbumArtist []string `json:"albumartist,omitempty"`
	Album       string   `json:"album,omitempty"`
	Duration    int      `json:"duration,omitempty"`
	Track       int      `json:"track,omitempty"`
	File        string   `json:"file,omitempty"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
}

// Loaded reports whether the player has an item.
func (i Item) Loaded() bool {
	return i.ID != 0 || i.File != "" || i.Title != "" || i.Label != ""
}

// DisplayTitle returns the best available title.
func (i Item) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	return i.Label
}

// PlayerItem is the Player.GetItem result.
type PlayerItem struct {
	Item Item `json:"item"`
}

func (p *PlayerItem) ApplyDefaults() {
	if p.Item.Type == "" {
		p.Item.Type = "unknown"
	}
}

// PlayerProperties is the playback snapshot. Absent position defaults to -1
// and absent repeat to "off".
type PlayerProperties struct {
	Speed      int        `json:"speed"`
	Time       TimeValue  `json:"time"`
	TotalTime  TimeValue  `json:"totaltime"`
	Percentage float64    `json:"percentage"`
	Position   int        `json:"position"`
	Shuffled   bool       `json:"shuffled"`
	Repeat     RepeatMode `json:"repeat"`
	Partymode  bool       `json:"partymode"`
	PlaylistID int        `json:"playlistid"`
	Type       string     `json:"type,omitempty"`
}

func (p *PlayerProperties) UnmarshalJSON(data []byte) error {
	type alias PlayerProperties
	a := alias{Position: -1, Repeat: RepeatOff}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = PlayerProperties(a)
	return nil
}

func (p PlayerProperties) Validate() error {
	if _, err := ParseRepeatMode(string(p.Repeat)); err != nil {
		return err
	}
	if p.Percentage < 0 || p.Percentage > 100 {
		return fmt.Errorf("percentage %.2f out of range", p.Percentage)
	}
	return nil
}

// Playing reports whether playback is running.
func (p PlayerProperties) Playing() bool {
	return p.Speed != 0
}

// ListLimits echoes the window of a list result.
type ListLimits struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Total int `json:"total"`
}

// PlaylistItem is one queue entry.
type PlaylistItem struct {
	ID       int      `json:"id,omitempty"`
	Type     string   `json:"type,omitempty"`
	Label    string   `json:"label"`
	Title    string   `json:"title,omitempty"`
	Artist   []string `json:"artist,omitempty"`
	Album    string   `json:"album,omitempty"`
	Duration int      `json:"duration,omitempty"`
	Track    int      `json:"track,omitempty"`
	File     string   `json:"file,omitempty"`
}

// PlaylistItems is the Playlist.GetItems result. Kodi omits "items" for an
// empty playlist; it defaults to an empty slice.
type PlaylistItems struct {
	Items  []PlaylistItem `json:"items"`
	Limits ListLimits     `json:"limits"`
}

func (p *PlaylistItems) ApplyDefaults() {
	if p.Items == nil {
		p.Items = []PlaylistItem{}
	}
}

func (p PlaylistItems) Validate() error {
	if p.Limits.Total < 0 {
		return errors.New("negative total")
	}
	return nil
}

// Song is one library entry.
type Song struct {
	SongID   int      `json:"songid"`
	Label    string   `json:"label"`
	Title    string   `json:"title,omitempty"`
	Artist   []string `json:"artist,omitempty"`
	Album    string   `json:"album,omitempty"`
	Duration int      `json:"duration,omitempty"`
	Track    int      `json:"track,omitempty"`
	File     string   `json:"file,omitempty"`
}

// LibrarySongs is the AudioLibrary.GetSongs result; absent "songs" defaults to empty.
type LibrarySongs struct {
	Songs  []Song     `json:"songs"`
	Limits ListLimits `json:"limits"`
}

func (l *LibrarySongs) ApplyDefaults() {
	if l.Songs == nil {
		l.Songs = []Song{}
	}
}

func (l LibrarySongs) Validate() error {
	for _, song := range l.Songs {
		if song.SongID <= 0 {
			return fmt.Errorf("song %q without id", song.Label)
		}
	}
	return nil
}

// LibraryProperties carries library freshness metadata.
type LibraryProperties struct {
	LastUpdated string `json:"librarylastupdated"`
}
