package remote

import (
	"context"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Host wraps application level properties and volume control.
type Host struct {
	log *zap.Logger
	c   ports.Caller

	Properties *Observable[kodi.ApplicationProperties]
}

func newHost(log *zap.Logger, c ports.Caller) *Host {
	return &Host{
		log:        log.With(zap.String("facade", "host")),
		c:          c,
		Properties: NewObservable(kodi.ApplicationProperties{Name: "Kodi"}),
	}
}

// Refresh fetches volume, mute state, name and version.
func (h *Host) Refresh(ctx context.Context) error {
	return h.issue(ctx)()
}

func (h *Host) issue(ctx context.Context) func() error {
	f := h.c.Go(ctx, kodi.ApplicationGetProperties{Properties: kodi.ApplicationPropertyNames})
	return func() error {
		var props kodi.ApplicationProperties
		if err := f.Wait(&props); err != nil {
			return err
		}
		h.Properties.Set(props)
		return nil
	}
}

// SetVolume sets an absolute volume, clamped to 0..100.
func (h *Host) SetVolume(level int) {
	level = max(0, min(100, level))
	h.c.FireAndForget(kodi.ApplicationSetVolume{Level: level})
}

// StepVolume raises or lowers the volume by Kodi's step.
func (h *Host) StepVolume(up bool) {
	step := kodi.VolumeDecrement
	if up {
		step = kodi.VolumeIncrement
	}
	h.c.FireAndForget(kodi.ApplicationSetVolume{Step: step})
}

// SetMute mutes or unmutes.
func (h *Host) SetMute(mute bool) {
	h.c.FireAndForget(kodi.ApplicationSetMute{Mute: kodi.SwitchOf(mute)})
}

// ToggleMute flips the mute state.
func (h *Host) ToggleMute() {
	h.c.FireAndForget(kodi.ApplicationSetMute{Mute: kodi.SwitchToggle})
}
