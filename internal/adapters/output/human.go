package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/kodi_remote/internal/remote"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	Out io.Writer
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	switch data := v.(type) {
	case remote.Status:
		return printStatus(out, statusFromRemote(data))
	case bus.BridgeState:
		return printStatus(out, statusFromBridge(data))
	case QueueOutput:
		return printQueue(out, data)
	case SongsOutput:
		return printSongs(out, data)
	case HostsOutput:
		return printHosts(out, data)
	case NodesOutput:
		return printNodes(out, data)
	case Message:
		_, err := fmt.Fprintln(out, string(data))
		return err
	default:
		_, err := fmt.Fprintln(out, "ok")
		return err
	}
}

type statusView struct {
	state    string
	endpoint string
	host     kodi.ApplicationProperties
	item     kodi.Item
	playback kodi.PlayerProperties
	queue    int
	songs    int
	scanning bool
}

func statusFromRemote(s remote.Status) statusView {
	return statusView{
		state:    s.Session.State.String(),
		endpoint: s.Session.Endpoint,
		host:     s.Host,
		item:     s.Item,
		playback: s.Playback,
		queue:    len(s.Queue),
		songs:    s.LibrarySongs,
		scanning: s.Scanning,
	}
}

func statusFromBridge(s bus.BridgeState) statusView {
	return statusView{
		state:    s.Session.State,
		endpoint: s.Session.Endpoint,
		host:     s.Host,
		item:     s.Item,
		playback: s.Playback,
		queue:    len(s.Queue),
		songs:    s.LibrarySongs,
		scanning: s.Scanning,
	}
}

func printStatus(out io.Writer, s statusView) error {
	status := "stopped"
	switch {
	case !s.item.Loaded():
	case s.playback.Playing():
		status = "playing"
	default:
		status = "paused"
	}
	volume := fmt.Sprintf("vol %d%%", s.host.Volume)
	if s.host.Muted {
		volume = "muted"
	}

	header := fmt.Sprintf("%s (%s) %s", s.host.Name, s.endpoint, stateLabel(s.state))
	if _, err := fmt.Fprintln(out, header); err != nil {
		return err
	}

	line := strings.Join(nonEmpty(
		"["+status+"]",
		formatItem(s.item),
		formatPosition(s.playback.Time, s.playback.TotalTime, s.playback.Percentage),
		volume,
	), "  ")
	if _, err := fmt.Fprintln(out, line); err != nil {
		return err
	}

	modes := fmt.Sprintf("repeat %s  shuffle %s  party %s", s.playback.Repeat, onOff(s.playback.Shuffled), onOff(s.playback.Partymode))
	library := fmt.Sprintf("Queue: %d tracks  Library: %d songs", s.queue, s.songs)
	if s.scanning {
		library += " (scanning)"
	}
	_, err := fmt.Fprintf(out, "%s\n%s\n", modes, library)
	return err
}

func stateLabel(state string) string {
	switch state {
	case "connected":
		return pterm.FgGreen.Sprint(state)
	case "failed":
		return pterm.FgRed.Sprint(state)
	default:
		return pterm.FgYellow.Sprint(state)
	}
}

func printQueue(out io.Writer, q QueueOutput) error {
	data := pterm.TableData{{"", "INDEX", "TITLE", "ARTIST", "ALBUM", "LEN"}}
	for idx, entry := range q.Items {
		marker := ""
		if idx == q.Position {
			marker = ">"
		}
		title := entry.Title
		if title == "" {
			title = entry.Label
		}
		data = append(data, []string{marker, strconv.Itoa(idx), title, strings.Join(entry.Artist, ", "), entry.Album, formatSeconds(entry.Duration)})
	}
	return renderTable(out, data)
}

func printSongs(out io.Writer, s SongsOutput) error {
	data := pterm.TableData{{"ID", "TITLE", "ARTIST", "ALBUM", "LEN"}}
	for _, song := range s.Songs {
		title := song.Title
		if title == "" {
			title = song.Label
		}
		data = append(data, []string{strconv.Itoa(song.SongID), title, strings.Join(song.Artist, ", "), song.Album, formatSeconds(song.Duration)})
	}
	return renderTable(out, data)
}

func printHosts(out io.Writer, h HostsOutput) error {
	if len(h.Hosts) == 0 {
		_, err := fmt.Fprintln(out, "no kodi hosts found")
		return err
	}
	data := pterm.TableData{{"NAME", "HOST", "HTTP", "WS"}}
	for _, host := range h.Hosts {
		data = append(data, []string{host.Name, host.Endpoint.Host, strconv.Itoa(host.Endpoint.HTTPPort), strconv.Itoa(host.Endpoint.WSPort)})
	}
	return renderTable(out, data)
}

func printNodes(out io.Writer, n NodesOutput) error {
	data := pterm.TableData{{"NAME", "NODE_ID", "ENDPOINT", "ONLINE"}}
	for _, node := range n.Nodes {
		data = append(data, []string{node.Name, node.NodeID, node.Endpoint, onOff(node.Online)})
	}
	return renderTable(out, data)
}

func renderTable(out io.Writer, data pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}

func formatItem(item kodi.Item) string {
	if !item.Loaded() {
		return ""
	}
	title := item.DisplayTitle()
	if len(item.Artist) > 0 {
		return fmt.Sprintf("%s - %s", strings.Join(item.Artist, ", "), title)
	}
	return title
}

func formatPosition(pos, total kodi.TimeValue, percent float64) string {
	if pos.Duration() == 0 && total.Duration() == 0 {
		return ""
	}
	return fmt.Sprintf("%s / %s (%d%%)", formatClock(pos.Duration()), formatClock(total.Duration()), int(percent))
}

func formatSeconds(secs int) string {
	if secs <= 0 {
		return ""
	}
	return formatClock(time.Duration(secs) * time.Second)
}

func formatClock(d time.Duration) string {
	secs := int(d / time.Second)
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
