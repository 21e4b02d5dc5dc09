package remote

import (
	"context"

	"github.com/mikey-austin/kodi_remote/internal/notify"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

func (r *Remote) handlers() map[string]notify.Handler {
	properties := func(ctx context.Context, _ kodi.Notification) {
		r.swallow("properties refresh", r.Player.RefreshProperties(ctx))
	}
	playback := func(ctx context.Context, _ kodi.Notification) {
		r.refreshPlayback(ctx)
	}
	queue := func(ctx context.Context, _ kodi.Notification) {
		r.swallow("queue refresh", r.Queue.Refresh(ctx))
	}
	libraryChanged := func(ctx context.Context, _ kodi.Notification) {
		if r.Library.Scanning.Get() {
			return
		}
		r.swallow("library load", r.Library.Load(ctx))
	}

	return map[string]notify.Handler{
		kodi.NotifyVolumeChanged: func(ctx context.Context, _ kodi.Notification) {
			r.swallow("host refresh", r.Host.Refresh(ctx))
		},
		kodi.NotifyPlayerPropertyChanged: properties,
		kodi.NotifyPlayerSpeedChanged:    properties,
		kodi.NotifyPlayerPause:           properties,
		kodi.NotifyPlayerResume:          properties,
		kodi.NotifyPlayerSeek:            properties,
		kodi.NotifyPlayerPlay:            playback,
		kodi.NotifyPlayerStop:            playback,
		kodi.NotifyPlayerAVStart:         playback,
		kodi.NotifyAudioLibraryScanStart: func(context.Context, kodi.Notification) {
			r.Library.setScanning(true)
		},
		kodi.NotifyAudioLibraryScanFinish: func(ctx context.Context, _ kodi.Notification) {
			r.Library.setScanning(false)
			_, err := r.Library.Validate(ctx)
			r.swallow("library validate", err)
		},
		kodi.NotifyAudioLibraryUpdate: libraryChanged,
		kodi.NotifyAudioLibraryRemove: libraryChanged,
		kodi.NotifyPlaylistAdd:        queue,
		kodi.NotifyPlaylistRemove:     queue,
		kodi.NotifyPlaylistClear:      queue,
	}
}
