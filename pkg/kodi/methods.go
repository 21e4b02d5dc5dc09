package kodi

// Methods understood by the client.
const (
	MethodApplicationGetProperties  = "Application.GetProperties"
	MethodApplicationSetVolume      = "Application.SetVolume"
	MethodApplicationSetMute        = "Application.SetMute"
	MethodPlayerGetItem             = "Player.GetItem"
	MethodPlayerGetProperties       = "Player.GetProperties"
	MethodPlayerPlayPause           = "Player.PlayPause"
	MethodPlayerOpen                = "Player.Open"
	MethodPlayerStop                = "Player.Stop"
	MethodPlayerGoTo                = "Player.GoTo"
	MethodPlayerSeek                = "Player.Seek"
	MethodPlayerSetShuffle          = "Player.SetShuffle"
	MethodPlayerSetPartymode        = "Player.SetPartymode"
	MethodPlayerSetRepeat           = "Player.SetRepeat"
	MethodPlaylistClear             = "Playlist.Clear"
	MethodPlaylistAdd               = "Playlist.Add"
	MethodPlaylistRemove            = "Playlist.Remove"
	MethodPlaylistSwap              = "Playlist.Swap"
	MethodPlaylistGetItems          = "Playlist.GetItems"
	MethodSettingsSetSettingValue   = "Settings.SetSettingValue"
	MethodAudioLibraryGetSongs      = "AudioLibrary.GetSongs"
	MethodAudioLibraryGetProperties = "AudioLibrary.GetProperties"
	MethodAudioLibraryScan          = "AudioLibrary.Scan"
	MethodJSONRPCPing               = "JSONRPC.Ping"
)

// Server push notifications.
const (
	NotifyVolumeChanged          = "Application.OnVolumeChanged"
	NotifyPlayerPropertyChanged  = "Player.OnPropertyChanged"
	NotifyPlayerPlay             = "Player.OnPlay"
	NotifyPlayerStop             = "Player.OnStop"
	NotifyPlayerPause            = "Player.OnPause"
	NotifyPlayerResume           = "Player.OnResume"
	NotifyPlayerSeek             = "Player.OnSeek"
	NotifyPlayerSpeedChanged     = "Player.OnSpeedChanged"
	NotifyPlayerAVStart          = "Player.OnAVStart"
	NotifyAudioLibraryUpdate     = "AudioLibrary.OnUpdate"
	NotifyAudioLibraryRemove     = "AudioLibrary.OnRemove"
	NotifyAudioLibraryScanStart  = "AudioLibrary.OnScanStarted"
	NotifyAudioLibraryScanFinish = "AudioLibrary.OnScanFinished"
	NotifyPlaylistAdd            = "Playlist.OnAdd"
	NotifyPlaylistRemove         = "Playlist.OnRemove"
	NotifyPlaylistClear          = "Playlist.OnClear"
)

// NotificationKind tags a decoded notification.
type NotificationKind int

const (
	NotificationUnknown NotificationKind = iota
	NotificationVolume
	NotificationPlayer
	NotificationAudioLibrary
	NotificationPlaylist
)

var notificationKinds = map[string]NotificationKind{
	NotifyVolumeChanged:          NotificationVolume,
	NotifyPlayerPropertyChanged:  NotificationPlayer,
	NotifyPlayerPlay:             NotificationPlayer,
	NotifyPlayerStop:             NotificationPlayer,
	NotifyPlayerPause:            NotificationPlayer,
	NotifyPlayerResume:           NotificationPlayer,
	NotifyPlayerSeek:             NotificationPlayer,
	NotifyPlayerSpeedChanged:     NotificationPlayer,
	NotifyPlayerAVStart:          NotificationPlayer,
	NotifyAudioLibraryUpdate:     NotificationAudioLibrary,
	NotifyAudioLibraryRemove:     NotificationAudioLibrary,
	NotifyAudioLibraryScanStart:  NotificationAudioLibrary,
	NotifyAudioLibraryScanFinish: NotificationAudioLibrary,
	NotifyPlaylistAdd:            NotificationPlaylist,
	NotifyPlaylistRemove:         NotificationPlaylist,
	NotifyPlaylistClear:          NotificationPlaylist,
}

// KindOf returns the tag for a notification method name.
func KindOf(method string) NotificationKind {
	return notificationKinds[method]
}

func (k NotificationKind) String() string {
	switch k {
	case NotificationVolume:
		return "volume"
	case NotificationPlayer:
		return "player"
	case NotificationAudioLibrary:
		return "audiolibrary"
	case NotificationPlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// AudioPlayerID and AudioPlaylistID are Kodi's fixed ids for music playback.
const (
	AudioPlayerID   = 0
	AudioPlaylistID = 0
)
