//go:build integration
// +build integration

package integration

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/adapters/mqtt"
	"github.com/mikey-austin/kodi_remote/internal/adapters/mqttserver"
	"github.com/mikey-austin/kodi_remote/internal/kodifake"
	embeddedmqtt "github.com/mikey-austin/kodi_remote/internal/modules/embedded_mqtt"
	kodibridge "github.com/mikey-austin/kodi_remote/internal/modules/kodi_bridge"
	"github.com/mikey-austin/kodi_remote/internal/remote"
	"github.com/mikey-austin/kodi_remote/internal/session"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

type integrationHarness struct {
	ctx        context.Context
	cancel     context.CancelFunc
	bridgeStop context.CancelFunc
	kodi       *kodifake.Server
	nodeID     string
	client     *mqtt.Client
}

func TestBridgeControlOverMQTT(t *testing.T) {
	h := setupIntegration(t)
	ctx := h.ctx

	waitForPresence(t, h.client, h.nodeID, true)
	state := waitForState(t, h, func(s bus.BridgeState) bool {
		return s.Session.State == session.Connected.String() && s.Host.Name == "Den" && len(s.Queue) == 2
	})
	if state.LibrarySongs != 1 {
		t.Fatalf("expected 1 library song, got %d", state.LibrarySongs)
	}

	reply := sendCommand(t, h, bus.CmdPlaybackToggle, nil)
	if !reply.OK {
		t.Fatalf("toggle failed: %+v", reply.Err)
	}
	expectPost(t, h.kodi, kodi.MethodPlayerPlayPause)

	level := 55
	reply = sendCommand(t, h, bus.CmdVolumeSet, bus.VolumeSetBody{Volume: &level})
	if !reply.OK {
		t.Fatalf("volume failed: %+v", reply.Err)
	}
	expectPost(t, h.kodi, kodi.MethodApplicationSetVolume)

	reply = sendCommand(t, h, "playback.rewind", nil)
	if reply.OK || reply.Err == nil || reply.Err.Code != bus.CodeUnsupported {
		t.Fatalf("expected unsupported, got %+v", reply)
	}

	reply = sendCommand(t, h, bus.CmdSessionSleep, nil)
	if !reply.OK {
		t.Fatalf("sleep failed: %+v", reply.Err)
	}
	reply = sendCommand(t, h, bus.CmdPlaybackStop, nil)
	if reply.OK || reply.Err == nil || reply.Err.Code != bus.CodeUnavailable {
		t.Fatalf("expected unavailable while asleep, got %+v", reply)
	}
	reply = sendCommand(t, h, bus.CmdSessionWake, nil)
	if !reply.OK {
		t.Fatalf("wake failed: %+v", reply.Err)
	}
	waitForState(t, h, func(s bus.BridgeState) bool {
		return s.Session.State == session.Connected.String()
	})

	watchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	updates, errs := h.client.WatchState(watchCtx, h.nodeID)
	h.kodi.Notify(kodi.NotifyAudioLibraryScanStart, nil)
	for {
		select {
		case s := <-updates:
			if s.Scanning {
				return
			}
		case err := <-errs:
			t.Fatalf("watch: %v", err)
		case <-watchCtx.Done():
			t.Fatalf("scan start never reached watchers")
		}
	}
}

func TestBridgeOfflinePresenceOnShutdown(t *testing.T) {
	h := setupIntegration(t)
	waitForPresence(t, h.client, h.nodeID, true)

	h.bridgeStop()
	waitForPresence(t, h.client, h.nodeID, false)
}

func setupIntegration(t *testing.T) *integrationHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zap.NewNop()
	listen := freeListenAddr(t)
	brokerURL := embeddedmqtt.BrokerURL(listen, false)

	broker, err := embeddedmqtt.NewModule(logger, embeddedmqtt.Config{
		Listen:         listen,
		AllowAnonymous: true,
	})
	if err != nil {
		t.Fatalf("embedded mqtt module: %v", err)
	}
	runModule(t, ctx, "embedded_mqtt", broker.Run)
	select {
	case <-broker.Ready():
	case <-time.After(3 * time.Second):
		t.Fatalf("broker not ready")
	}
	waitForBrokerReady(t, listen)

	srv := newKodi(t)
	nodeID := "kr:kodi:integration-" + uuid.NewString()[:8]
	serverClient := waitForMQTTServerClient(t, brokerURL)
	bridge, err := kodibridge.NewModule(logger, serverClient, kodibridge.Config{
		NodeID:    nodeID,
		TopicBase: bus.BaseTopic,
		Name:      "Den",
		Remote: remote.Options{
			Endpoint: srv.Endpoint(),
			Session: session.Options{
				KeepaliveInterval: time.Hour,
				RetryInitial:      100 * time.Millisecond,
				RetryMax:          time.Second,
			},
		},
	})
	if err != nil {
		t.Fatalf("bridge module: %v", err)
	}
	bridgeCtx, bridgeStop := context.WithCancel(ctx)
	runModule(t, bridgeCtx, "kodi_bridge", bridge.Run)

	return &integrationHarness{
		ctx:        ctx,
		cancel:     cancel,
		bridgeStop: bridgeStop,
		kodi:       srv,
		nodeID:     nodeID,
		client:     waitForMQTTClient(t, brokerURL),
	}
}

func newKodi(t *testing.T) *kodifake.Server {
	srv := kodifake.New(t)
	srv.Result(kodi.MethodApplicationGetProperties, map[string]any{
		"volume": 40, "muted": false, "name": "Den",
		"version": map[string]any{"major": 21, "minor": 1},
	})
	srv.Result(kodi.MethodAudioLibraryGetSongs, map[string]any{
		"songs":  []any{map[string]any{"songid": 3, "label": "three"}},
		"limits": map[string]any{"start": 0, "end": 1, "total": 1},
	})
	srv.Result(kodi.MethodAudioLibraryGetProperties, map[string]any{"librarylastupdated": "2024-05-01 10:00:00"})
	srv.Result(kodi.MethodPlaylistGetItems, map[string]any{
		"items":  []any{map[string]any{"id": 3, "label": "three"}, map[string]any{"id": 4, "label": "four"}},
		"limits": map[string]any{"start": 0, "end": 2, "total": 2},
	})
	srv.Result(kodi.MethodPlayerGetItem, map[string]any{"item": map[string]any{"id": 3, "type": "song", "label": "three"}})
	srv.Result(kodi.MethodPlayerGetProperties, map[string]any{"speed": 1, "position": 0, "repeat": "off"})
	return srv
}

func sendCommand(t *testing.T, h *integrationHarness, cmdType string, body any) bus.ReplyEnvelope {
	t.Helper()
	cmd, err := bus.NewCommand(cmdType, body)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	ctx, cancel := context.WithTimeout(h.ctx, 3*time.Second)
	defer cancel()
	reply, err := h.client.PublishCommand(ctx, h.nodeID, cmd)
	if err != nil {
		t.Fatalf("publish %s: %v", cmdType, err)
	}
	return reply
}

func waitForState(t *testing.T, h *integrationHarness, cond func(bus.BridgeState) bool) bus.BridgeState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last bus.BridgeState
	for time.Now().Before(deadline) {
		state, err := h.client.GetState(h.ctx, h.nodeID)
		if err == nil {
			last = state
			if cond(state) {
				return state
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("state condition not reached, last %+v", last)
	return bus.BridgeState{}
}

func expectPost(t *testing.T, srv *kodifake.Server, method string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case req := <-srv.PostCh():
			if req.Method == method {
				return
			}
		case <-deadline:
			t.Fatalf("no %s post", method)
		}
	}
}

func runModule(t *testing.T, ctx context.Context, name string, run func(context.Context) error) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()
	t.Cleanup(func() {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("%s module failed: %v", name, err)
			}
		case <-time.After(500 * time.Millisecond):
		}
	})
}

func waitForMQTTClient(t *testing.T, brokerURL string) *mqtt.Client {
	t.Helper()
	var lastErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		client, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: brokerURL,
			ClientID:  "kr-int-" + uuid.NewString(),
			TopicBase: bus.BaseTopic,
			Timeout:   2 * time.Second,
		})
		if err == nil {
			t.Cleanup(client.Close)
			return client
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("connect kr client: %v", lastErr)
	return nil
}

func waitForMQTTServerClient(t *testing.T, brokerURL string) *mqttserver.Client {
	t.Helper()
	var lastErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		client, err := mqttserver.NewClient(mqttserver.Options{
			BrokerURL: brokerURL,
			ClientID:  "krd-int-" + uuid.NewString(),
			Timeout:   2 * time.Second,
		})
		if err == nil {
			t.Cleanup(client.Close)
			return client
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("connect krd client: %v", lastErr)
	return nil
}

func waitForPresence(t *testing.T, client *mqtt.Client, nodeID string, online bool) {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		presence, err := client.ListPresence(context.Background())
		if err == nil {
			for _, p := range presence {
				if p.NodeID == nodeID && p.Online == online {
					return
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for presence %s online=%t", nodeID, online)
}

func freeListenAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network listen not permitted in this environment")
		}
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func waitForBrokerReady(t *testing.T, listen string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", listen, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network dial not permitted in this environment")
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("broker not ready: %v", lastErr)
}
