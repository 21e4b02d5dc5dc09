package output

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/kodi_remote/internal/adapters/discovery"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func TestStatusFromBridgeState(t *testing.T) {
	var buf bytes.Buffer
	state := bus.BridgeState{
		Session:  bus.SessionState{State: "connected", Endpoint: "kodi.lan:8080/9090"},
		Host:     kodi.ApplicationProperties{Name: "Den", Volume: 42},
		Item:     kodi.Item{ID: 3, Title: "Blue", Artist: []string{"Joni Mitchell"}},
		Playback: kodi.PlayerProperties{Speed: 1, Repeat: kodi.RepeatAll, Time: kodi.TimeValue{Minutes: 1, Seconds: 5}, TotalTime: kodi.TimeValue{Minutes: 3}, Percentage: 36.1},
		Queue:    make([]kodi.PlaylistItem, 4),
	}
	if err := (HumanPrinter{Out: &buf}).Print(state); err != nil {
		t.Fatalf("print: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"Den", "connected", "[playing]", "Joni Mitchell - Blue", "1:05 / 3:00 (36%)", "vol 42%", "repeat all", "Queue: 4 tracks"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestQueueMarksPosition(t *testing.T) {
	var buf bytes.Buffer
	q := QueueOutput{Position: 1, Items: []kodi.PlaylistItem{{Label: "one"}, {Label: "two", Duration: 185}}}
	if err := (HumanPrinter{Out: &buf}).Print(q); err != nil {
		t.Fatalf("print: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.Contains(lines[2], ">") || !strings.Contains(lines[2], "3:05") || strings.Contains(lines[1], ">") {
		t.Fatalf("unexpected rows %q", lines)
	}
}

func TestHostsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := (HumanPrinter{Out: &buf}).Print(HostsOutput{}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "no kodi hosts") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	hosts := HostsOutput{Hosts: []discovery.Host{{Name: "Den", Endpoint: kodi.Endpoint{Host: "10.0.0.5", HTTPPort: 8080, WSPort: 9090}}}}
	if err := (HumanPrinter{Out: &buf}).Print(hosts); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "10.0.0.5") {
		t.Fatalf("missing host in %q", buf.String())
	}
}

func TestJSONPrinterMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, true).Print(Message("queued")); err != nil {
		t.Fatalf("print: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["message"] != "queued" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestFormatClock(t *testing.T) {
	if got := formatSeconds(3725); got != "1:02:05" {
		t.Fatalf("unexpected clock %q", got)
	}
	if got := formatSeconds(0); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
