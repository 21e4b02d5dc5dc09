package remote

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

const itemPollTimer = "item-poll"

// Player wraps the audio player.
type Player struct {
	log      *zap.Logger
	c        ports.Caller
	sched    ports.Scheduler
	interval time.Duration

	Item       *Observable[kodi.PlayerItem]
	Properties *Observable[kodi.PlayerProperties]
}

func newPlayer(log *zap.Logger, c ports.Caller, sched ports.Scheduler, pollInterval time.Duration) *Player {
	return &Player{
		log:        log.With(zap.String("facade", "player")),
		c:          c,
		sched:      sched,
		interval:   pollInterval,
		Item:       NewObservable(kodi.PlayerItem{Item: kodi.Item{Type: "unknown"}}),
		Properties: NewObservable(kodi.PlayerProperties{Position: -1, Repeat: kodi.RepeatOff}),
	}
}

// RefreshItem fetches the loaded item. While nothing is loaded the item is
// polled on a session timer.
func (p *Player) RefreshItem(ctx context.Context) error {
	return p.issueItem(ctx)()
}

// RefreshProperties fetches playback properties.
func (p *Player) RefreshProperties(ctx context.Context) error {
	return p.issueProperties(ctx)()
}

func (p *Player) issueItem(ctx context.Context) func() error {
	f := p.c.Go(ctx, kodi.PlayerGetItem{PlayerID: kodi.AudioPlayerID, Properties: kodi.ItemPropertyNames})
	return func() error {
		var item kodi.PlayerItem
		if err := f.Wait(&item); err != nil {
			return err
		}
		p.Item.Set(item)
		if !item.Item.Loaded() {
			p.pollItem()
		}
		return nil
	}
}

func (p *Player) issueProperties(ctx context.Context) func() error {
	f := p.c.Go(ctx, kodi.PlayerGetProperties{PlayerID: kodi.AudioPlayerID, Properties: kodi.PlayerPropertyNames})
	return func() error {
		var props kodi.PlayerProperties
		if err := f.Wait(&props); err != nil {
			return err
		}
		p.Properties.Set(props)
		return nil
	}
}

func (p *Player) pollItem() {
	if p.sched == nil || p.interval <= 0 {
		return
	}
	p.sched.Schedule(itemPollTimer, p.interval, func(ctx context.Context) bool {
		if err := p.RefreshItem(ctx); err != nil {
			p.log.Debug("item poll failed", zap.Error(err))
			return false
		}
		return p.Item.Get().Item.Loaded()
	})
}

// PlayPause toggles playback.
func (p *Player) PlayPause() {
	p.c.FireAndForget(kodi.PlayerPlayPause{PlayerID: kodi.AudioPlayerID, Play: kodi.SwitchToggle})
}

// SetPlaying forces playback on or off.
func (p *Player) SetPlaying(on bool) {
	p.c.FireAndForget(kodi.PlayerPlayPause{PlayerID: kodi.AudioPlayerID, Play: kodi.SwitchOf(on)})
}

// Stop stops playback.
func (p *Player) Stop() {
	p.c.FireAndForget(kodi.PlayerStop{PlayerID: kodi.AudioPlayerID})
}

// Next skips to the next queue entry.
func (p *Player) Next() {
	p.c.FireAndForget(kodi.PlayerGoTo{PlayerID: kodi.AudioPlayerID, Step: kodi.GoToNext})
}

// Previous returns to the previous queue entry.
func (p *Player) Previous() {
	p.c.FireAndForget(kodi.PlayerGoTo{PlayerID: kodi.AudioPlayerID, Step: kodi.GoToPrevious})
}

// GoTo jumps to a queue position.
func (p *Player) GoTo(position int) {
	p.c.FireAndForget(kodi.PlayerGoTo{PlayerID: kodi.AudioPlayerID, Position: position})
}

// Seek moves to a percentage of the current item.
func (p *Player) Seek(percentage float64) {
	percentage = max(0, min(100, percentage))
	p.c.FireAndForget(kodi.PlayerSeek{PlayerID: kodi.AudioPlayerID, Value: kodi.SeekValue{Percentage: percentage}})
}

// SetShuffle sets or toggles shuffle.
func (p *Player) SetShuffle(s kodi.Switch) {
	p.c.FireAndForget(kodi.PlayerSetShuffle{PlayerID: kodi.AudioPlayerID, Shuffle: s})
}

// SetRepeat sets the repeat mode.
func (p *Player) SetRepeat(mode kodi.RepeatMode) {
	p.c.FireAndForget(kodi.PlayerSetRepeat{PlayerID: kodi.AudioPlayerID, Repeat: mode})
}

// SetPartymode sets or toggles party mode.
func (p *Player) SetPartymode(s kodi.Switch) {
	p.c.FireAndForget(kodi.PlayerSetPartymode{PlayerID: kodi.AudioPlayerID, Partymode: s})
}

// PlayPosition starts the queue at position.
func (p *Player) PlayPosition(position int) {
	p.c.FireAndForget(kodi.PlayerOpen{Item: kodi.PlaylistPosition(kodi.AudioPlaylistID, position)})
}

// PlaySong starts a library song directly.
func (p *Player) PlaySong(songID int) {
	p.c.FireAndForget(kodi.PlayerOpen{Item: kodi.OpenItem{SongID: songID}})
}
