package ports

import (
	"context"
	"time"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Transport owns the byte-level channels to one Kodi endpoint.
type Transport interface {
	Connect(ctx context.Context, ep kodi.Endpoint) error
	Send(frame []byte) error
	SendOneShot(ep kodi.Endpoint, frame []byte)
	Frames() <-chan []byte
	Disconnect(reason string)
}

// Future is an issued call whose response has not been consumed yet.
type Future interface {
	Wait(out any) error
}

// Caller issues JSON-RPC calls on the current session.
type Caller interface {
	Call(ctx context.Context, params kodi.Params, out any) error
	Go(ctx context.Context, params kodi.Params) Future
	FireAndForget(params kodi.Params)
}

// Scheduler runs repeating work bound to the lifetime of the connected session.
// fn returns true once the work is complete, which stops the timer.
type Scheduler interface {
	Schedule(name string, every time.Duration, fn func(ctx context.Context) bool)
}
