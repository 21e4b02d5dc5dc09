package remote

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey-austin/kodi_remote/internal/adapters/transport"
	"github.com/mikey-austin/kodi_remote/internal/kodifake"
	"github.com/mikey-austin/kodi_remote/internal/session"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

var (
	hostProps = map[string]any{
		"volume":  50,
		"muted":   false,
		"name":    "Kodi",
		"version": map[string]any{"major": 20, "minor": 1},
	}
	loadedItem = map[string]any{"item": map[string]any{"id": 3, "type": "song", "label": "Song Three", "title": "Song Three"}}
	emptyItem  = map[string]any{"item": map[string]any{"label": "", "type": ""}}
	twoEntries = map[string]any{
		"items":  []any{map[string]any{"id": 1, "label": "one"}, map[string]any{"id": 2, "label": "two"}},
		"limits": map[string]any{"start": 0, "end": 2, "total": 2},
	}
	noEntries = map[string]any{"limits": map[string]any{"start": 0, "end": 0, "total": 0}}
)

func newKodi(t *testing.T) *kodifake.Server {
	srv := kodifake.New(t)
	srv.Result(kodi.MethodApplicationGetProperties, hostProps)
	srv.Result(kodi.MethodAudioLibraryGetSongs, map[string]any{
		"songs":  []any{map[string]any{"songid": 1, "label": "one"}},
		"limits": map[string]any{"start": 0, "end": 1, "total": 1},
	})
	srv.Result(kodi.MethodAudioLibraryGetProperties, map[string]any{"librarylastupdated": "2024-01-01 10:00:00"})
	srv.Result(kodi.MethodPlaylistGetItems, twoEntries)
	srv.Result(kodi.MethodPlayerGetItem, loadedItem)
	srv.Result(kodi.MethodPlayerGetProperties, map[string]any{"speed": 1, "position": 0, "repeat": "off", "percentage": 12.5})
	return srv
}

func connect(t *testing.T, srv *kodifake.Server, opts Options) *Remote {
	t.Helper()
	opts.Endpoint = srv.Endpoint()
	if opts.Session.KeepaliveInterval == 0 {
		opts.Session.KeepaliveInterval = time.Hour
	}
	r := New(nil, transport.New(nil, transport.Options{}), opts)
	t.Cleanup(r.Close)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	return r
}

func countCalls(srv *kodifake.Server, method string) int {
	n := 0
	for _, m := range srv.Calls() {
		if m == method {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEntrySequence(t *testing.T) {
	srv := newKodi(t)
	connect(t, srv, Options{})

	want := []string{
		kodi.MethodApplicationGetProperties,
		kodi.MethodAudioLibraryGetSongs,
		kodi.MethodAudioLibraryGetProperties,
		kodi.MethodPlaylistGetItems,
		kodi.MethodPlayerGetItem,
		kodi.MethodPlayerGetProperties,
	}
	if got := srv.Calls(); !slices.Equal(got[:len(want)], want) {
		t.Fatalf("calls = %v, want prefix %v", got, want)
	}
}

func TestHostPropertiesPublishOnce(t *testing.T) {
	srv := newKodi(t)
	opts := Options{Endpoint: srv.Endpoint(), Session: session.Options{KeepaliveInterval: time.Hour}}
	r := New(nil, transport.New(nil, transport.Options{}), opts)
	t.Cleanup(r.Close)

	var published atomic.Int32
	r.Host.Properties.Subscribe(func(kodi.ApplicationProperties) { published.Add(1) })
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := r.WaitReady(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := r.Host.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if published.Load() != 1 {
		t.Fatalf("expected one publish, got %d", published.Load())
	}
	got := r.Host.Properties.Get()
	if got.Volume != 50 || got.Muted || got.Name != "Kodi" || got.Version.String() != "20.1" {
		t.Fatalf("unexpected host properties: %+v", got)
	}
}

func TestRefreshFailureKeepsStaleData(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})

	srv.Handle(kodi.MethodApplicationGetProperties, func(json.RawMessage) (any, *kodi.RPCError) {
		return nil, &kodi.RPCError{Code: -32100, Message: "Failed to execute method."}
	})
	err := r.Host.Refresh(context.Background())
	var rpcErr *kodi.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpc error, got %v", err)
	}
	if r.Host.Properties.Get().Volume != 50 {
		t.Fatalf("stale data replaced after failure")
	}

	srv.Result(kodi.MethodApplicationGetProperties, map[string]any{"volume": 150})
	if err := r.Host.Refresh(context.Background()); !errors.Is(err, kodi.ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if r.Host.Properties.Get().Volume != 50 {
		t.Fatalf("invalid data published")
	}
}

func TestOnPlayRefreshesQueueItemProperties(t *testing.T) {
	srv := newKodi(t)
	connect(t, srv, Options{})
	before := len(srv.Calls())

	srv.Notify(kodi.NotifyPlayerPlay, map[string]any{"item": map[string]any{"id": 3, "type": "song"}, "player": map[string]any{"playerid": 0}})

	eventually(t, "three calls", func() bool { return len(srv.Calls()) >= before+3 })
	got := srv.Calls()[before : before+3]
	want := []string{kodi.MethodPlaylistGetItems, kodi.MethodPlayerGetItem, kodi.MethodPlayerGetProperties}
	if !slices.Equal(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestVolumeNotificationRefreshesHost(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})

	srv.Result(kodi.MethodApplicationGetProperties, map[string]any{"volume": 10, "muted": true, "name": "Kodi", "version": map[string]any{"major": 20, "minor": 1}})
	srv.Notify(kodi.NotifyVolumeChanged, map[string]any{"volume": 10, "muted": true})

	eventually(t, "host refresh", func() bool { return r.Host.Properties.Get().Volume == 10 })
	if !r.Host.Properties.Get().Muted {
		t.Fatalf("expected muted")
	}
}

func TestEmptyQueueRemovesQueueSection(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})

	if err := r.Navigation.Select(SectionQueue); err != nil {
		t.Fatalf("select queue: %v", err)
	}
	srv.Result(kodi.MethodPlaylistGetItems, noEntries)
	srv.Notify(kodi.NotifyPlaylistClear, map[string]any{"playlistid": 0})

	eventually(t, "queue section removed", func() bool {
		return !slices.Contains(r.Navigation.State.Get().Sections, SectionQueue)
	})
	if got := r.Navigation.State.Get().Selected; got != SectionLibrary {
		t.Fatalf("expected fallback to library, got %s", got)
	}
	if items := r.Queue.Items.Get().Items; items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil queue, got %#v", items)
	}
}

func TestItemPolledUntilLoaded(t *testing.T) {
	srv := newKodi(t)
	var loaded atomic.Bool
	srv.Handle(kodi.MethodPlayerGetItem, func(json.RawMessage) (any, *kodi.RPCError) {
		if loaded.Load() {
			return loadedItem, nil
		}
		return emptyItem, nil
	})
	r := connect(t, srv, Options{ItemPoll: 10 * time.Millisecond})

	eventually(t, "item polling", func() bool { return countCalls(srv, kodi.MethodPlayerGetItem) >= 3 })
	if slices.Contains(r.Navigation.State.Get().Sections, SectionNowPlaying) {
		t.Fatalf("now-playing must be hidden while nothing is loaded")
	}

	loaded.Store(true)
	eventually(t, "poll stops", func() bool { return !r.Machine.Scheduled(itemPollTimer) })
	if r.Player.Item.Get().Item.ID != 3 {
		t.Fatalf("unexpected item: %+v", r.Player.Item.Get())
	}
	if !slices.Contains(r.Navigation.State.Get().Sections, SectionNowPlaying) {
		t.Fatalf("now-playing must appear once an item is loaded")
	}
}

func TestScanSuppressesLibraryReload(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})
	if n := countCalls(srv, kodi.MethodAudioLibraryGetSongs); n != 1 {
		t.Fatalf("expected one initial load, got %d", n)
	}

	srv.Notify(kodi.NotifyAudioLibraryScanStart, map[string]any{})
	eventually(t, "scanning", r.Library.Scanning.Get)
	srv.Notify(kodi.NotifyAudioLibraryUpdate, map[string]any{"id": 9, "type": "song"})
	time.Sleep(50 * time.Millisecond)
	if n := countCalls(srv, kodi.MethodAudioLibraryGetSongs); n != 1 {
		t.Fatalf("library reloaded during scan: %d loads", n)
	}

	srv.Result(kodi.MethodAudioLibraryGetProperties, map[string]any{"librarylastupdated": "2024-02-01 09:00:00"})
	srv.Notify(kodi.NotifyAudioLibraryScanFinish, map[string]any{})
	eventually(t, "scan finished", func() bool { return !r.Library.Scanning.Get() })
	eventually(t, "reload after freshness check", func() bool {
		return countCalls(srv, kodi.MethodAudioLibraryGetSongs) == 2
	})

	srv.Notify(kodi.NotifyAudioLibraryUpdate, map[string]any{"id": 9, "type": "song"})
	eventually(t, "reload after update", func() bool {
		return countCalls(srv, kodi.MethodAudioLibraryGetSongs) == 3
	})
}

func TestScanFinishWithoutChangeSkipsReload(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})

	srv.Notify(kodi.NotifyAudioLibraryScanStart, map[string]any{})
	eventually(t, "scanning", r.Library.Scanning.Get)
	srv.Notify(kodi.NotifyAudioLibraryScanFinish, map[string]any{})
	eventually(t, "scan finished", func() bool { return !r.Library.Scanning.Get() })
	eventually(t, "freshness checked", func() bool {
		return countCalls(srv, kodi.MethodAudioLibraryGetProperties) == 2
	})
	time.Sleep(50 * time.Millisecond)
	if n := countCalls(srv, kodi.MethodAudioLibraryGetSongs); n != 1 {
		t.Fatalf("unchanged library reloaded: %d loads", n)
	}
}

func TestLibraryValidateSkipsUnchanged(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})

	reloaded, err := r.Library.Validate(context.Background())
	if err != nil || reloaded {
		t.Fatalf("validate after initial load = %v, %v", reloaded, err)
	}

	srv.Result(kodi.MethodAudioLibraryGetProperties, map[string]any{"librarylastupdated": "2024-02-01 09:00:00"})
	reloaded, err = r.Library.Validate(context.Background())
	if err != nil || !reloaded {
		t.Fatalf("validate after change = %v, %v", reloaded, err)
	}
	reloaded, err = r.Library.Validate(context.Background())
	if err != nil || reloaded {
		t.Fatalf("validate unchanged = %v, %v", reloaded, err)
	}
}

func TestCommandsUseOneShotChannel(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})

	r.Player.PlayPause()
	select {
	case req := <-srv.PostCh():
		if req.Method != kodi.MethodPlayerPlayPause {
			t.Fatalf("unexpected method %s", req.Method)
		}
		var params kodi.PlayerPlayPause
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Fatalf("params: %v", err)
		}
		if params.Play != kodi.SwitchToggle {
			t.Fatalf("unexpected play switch %v", params.Play)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no one-shot request")
	}

	r.Host.SetVolume(140)
	select {
	case req := <-srv.PostCh():
		var params kodi.ApplicationSetVolume
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Fatalf("params: %v", err)
		}
		if params.Level != 100 {
			t.Fatalf("volume not clamped: %d", params.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no one-shot request")
	}
	r.Flush()
}

func TestSettingsSet(t *testing.T) {
	srv := newKodi(t)
	var got atomic.Value
	srv.Handle(kodi.MethodSettingsSetSettingValue, func(params json.RawMessage) (any, *kodi.RPCError) {
		got.Store(string(params))
		return true, nil
	})
	r := connect(t, srv, Options{})

	if err := r.Settings.Set(context.Background(), "audiooutput.guisoundmode", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got.Load() != `{"setting":"audiooutput.guisoundmode","value":0}` {
		t.Fatalf("unexpected params %v", got.Load())
	}
	if err := r.Settings.Set(context.Background(), " ", 1); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestStatusAfterDisconnect(t *testing.T) {
	srv := newKodi(t)
	r := connect(t, srv, Options{})
	r.Machine.Disconnect()

	st := r.Status()
	if st.Session.State != session.Disconnected {
		t.Fatalf("unexpected state %s", st.Session.State)
	}
	if st.Host.Volume != 50 || len(st.Queue) != 2 || st.LibrarySongs != 1 {
		t.Fatalf("snapshots lost on disconnect: %+v", st)
	}
	if err := r.WaitReady(context.Background()); !errors.Is(err, kodi.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}
