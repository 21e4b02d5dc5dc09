package embeddedmqtt

import (
	"context"
	"net"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
)

func TestNewServerRequiresAuthConfig(t *testing.T) {
	if _, err := newServer(zap.NewNop(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := newServer(zap.NewNop(), Config{Username: "kr", Password: "secret"}); err != nil {
		t.Fatalf("ledger auth: %v", err)
	}
}

func TestInlineStateWildcardSubscribe(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	received := make(chan packets.Packet, 1)
	handler := func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		received <- pk
	}
	if err := server.Subscribe("kr/v1/node/+/state", 1, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := server.Publish("kr/v1/node/living/state", []byte(`{"scanning":true}`), true, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case pk := <-received:
		if pk.TopicName != "kr/v1/node/living/state" || string(pk.Payload) != `{"scanning":true}` {
			t.Fatalf("unexpected packet %s %s", pk.TopicName, pk.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for message")
	}
}

func TestRunListensUntilCancelled(t *testing.T) {
	listen := freeAddr(t)
	mod, err := NewModule(zap.NewNop(), Config{Listen: listen, AllowAnonymous: true})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mod.Run(ctx) }()

	select {
	case <-mod.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("broker not ready")
	}
	conn, err := net.DialTimeout("tcp", listen, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
}

func TestListenerTLSRequiresCertificate(t *testing.T) {
	if _, err := buildListenerTLS("ca.pem", "", ""); err == nil {
		t.Fatalf("expected error without cert and key")
	}
}

func TestConfigURL(t *testing.T) {
	if got := (Config{}).URL(); got != "mqtt://127.0.0.1:1883" {
		t.Fatalf("unexpected default url %q", got)
	}
	if got := (Config{Listen: "0.0.0.0:8883", TLSCert: "c", TLSKey: "k"}).URL(); got != "mqtts://0.0.0.0:8883" {
		t.Fatalf("unexpected tls url %q", got)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
