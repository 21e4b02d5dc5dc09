// Package remote composes the Kodi session with typed facades kept in sync by
// server notifications.
package remote

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/notify"
	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/internal/rpc"
	"github.com/mikey-austin/kodi_remote/internal/session"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// DefaultItemPoll is how often the item is re-fetched while nothing is loaded.
const DefaultItemPoll = 5 * time.Second

// Options configures a Remote.
type Options struct {
	Endpoint    kodi.Endpoint
	IDScheme    rpc.IDScheme
	CallTimeout time.Duration
	Session     session.Options
	ItemPoll    time.Duration
}

// Remote is one Kodi session with its facades.
type Remote struct {
	log    *zap.Logger
	tr     ports.Transport
	rpc    *rpc.Correlator
	router *notify.Router

	Machine    *session.Machine
	Host       *Host
	Player     *Player
	Queue      *Queue
	Library    *Library
	Settings   *Settings
	Navigation *Navigation

	mu    sync.Mutex
	ready chan struct{}
}

// New wires tr, the correlator, the router and the machine into a Remote.
func New(log *zap.Logger, tr ports.Transport, opts Options) *Remote {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ItemPoll == 0 {
		opts.ItemPoll = DefaultItemPoll
	}

	correlator := rpc.New(log.With(zap.String("component", "rpc")), tr, rpc.Options{
		Timeout: opts.CallTimeout,
		Scheme:  opts.IDScheme,
	})
	machine := session.New(log.With(zap.String("component", "session")), tr, correlator, opts.Endpoint, opts.Session)
	facadeLog := log.With(zap.String("component", "remote"))

	r := &Remote{
		log:        facadeLog,
		tr:         tr,
		rpc:        correlator,
		Machine:    machine,
		Host:       newHost(facadeLog, machine),
		Player:     newPlayer(facadeLog, machine, machine, opts.ItemPoll),
		Queue:      newQueue(facadeLog, machine),
		Library:    newLibrary(facadeLog, machine),
		Settings:   &Settings{c: machine},
		Navigation: newNavigation(),
		ready:      make(chan struct{}),
	}
	r.router = notify.NewRouter(log.With(zap.String("component", "notify")), r.handlers())

	r.Queue.Items.Subscribe(func(items kodi.PlaylistItems) {
		nonEmpty := len(items.Items) > 0
		r.Navigation.update(&nonEmpty, nil)
	})
	r.Player.Item.Subscribe(func(item kodi.PlayerItem) {
		loaded := item.Item.Loaded()
		r.Navigation.update(nil, &loaded)
	})
	machine.Subscribe(func(s session.State) {
		if s == session.Connecting {
			r.mu.Lock()
			select {
			case <-r.ready:
				r.ready = make(chan struct{})
			default:
			}
			r.mu.Unlock()
		}
	})
	machine.SetHooks(session.Hooks{
		OnConnected:    r.onConnected,
		OnNotification: r.router.Dispatch,
	})
	return r
}

// Connect opens the session.
func (r *Remote) Connect(ctx context.Context) error {
	return r.Machine.Connect(ctx)
}

// WaitReady blocks until the entry sequence of the current session finished,
// the session failed, or ctx is done.
func (r *Remote) WaitReady(ctx context.Context) error {
	failed := make(chan struct{}, 1)
	unsubscribe := r.Machine.Subscribe(func(s session.State) {
		if s == session.Failed || s == session.Disconnected || s == session.Sleeping {
			select {
			case failed <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if s := r.Machine.State(); s != session.Connected && s != session.Connecting && s != session.Waking {
		return kodi.ErrNotConnected
	}
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-failed:
		return kodi.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session and waits for background work.
func (r *Remote) Close() {
	r.Machine.Disconnect()
	r.router.Wait()
	r.Flush()
}

// Flush waits for fire-and-forget requests still in flight.
func (r *Remote) Flush() {
	if w, ok := r.tr.(interface{ WaitOneShots() }); ok {
		w.WaitOneShots()
	}
}

// onConnected runs the entry sequence: host, library, then player and queue.
// Only the host fetch decides whether the session is usable.
func (r *Remote) onConnected(ctx context.Context) error {
	if err := r.Host.Refresh(ctx); err != nil {
		return err
	}
	if err := r.Library.Load(ctx); err != nil {
		r.swallow("library load", err)
	}
	r.refreshPlayback(ctx)

	r.mu.Lock()
	select {
	case <-r.ready:
	default:
		close(r.ready)
	}
	r.mu.Unlock()
	return nil
}

// refreshPlayback issues the queue, item and properties fetches in that
// order, then waits for all three.
func (r *Remote) refreshPlayback(ctx context.Context) {
	queue := r.Queue.issue(ctx)
	item := r.Player.issueItem(ctx)
	props := r.Player.issueProperties(ctx)
	if err := queue(); err != nil {
		r.swallow("queue refresh", err)
	}
	if err := item(); err != nil {
		r.swallow("item refresh", err)
	}
	if err := props(); err != nil {
		r.swallow("properties refresh", err)
	}
}

func (r *Remote) swallow(op string, err error) {
	if err == nil {
		return
	}
	r.log.Warn(op+" failed", zap.Error(err))
}
