// Package output renders command results for the kr CLI.
package output

import (
	"io"
	"os"

	"github.com/mikey-austin/kodi_remote/internal/adapters/discovery"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Printer renders output to stdout.
type Printer interface {
	Print(v any) error
}

// New returns the JSON printer when asJSON is set, otherwise the human one.
func New(out io.Writer, asJSON bool) Printer {
	if out == nil {
		out = os.Stdout
	}
	if asJSON {
		return JSONPrinter{Out: out}
	}
	return HumanPrinter{Out: out}
}

// QueueOutput is the queue with the playing position (-1 when idle).
type QueueOutput struct {
	Items    []kodi.PlaylistItem `json:"items"`
	Position int                 `json:"position"`
}

// SongsOutput is a library listing.
type SongsOutput struct {
	Songs []kodi.Song `json:"songs"`
}

// HostsOutput lists Kodi hosts found on the network.
type HostsOutput struct {
	Hosts []discovery.Host `json:"hosts"`
}

// NodesOutput lists krd bridge nodes.
type NodesOutput struct {
	Nodes []bus.Presence `json:"nodes"`
}

// Message is a one-line confirmation.
type Message string
