// Package session runs the connection lifecycle for one Kodi endpoint.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/internal/rpc"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// KeepaliveFrame is the text frame sent to detect dead connections.
const KeepaliveFrame = "ping"

// Options configures a Machine.
type Options struct {
	KeepaliveInterval time.Duration
	ConnectTimeout    time.Duration
	// RetryInitial enables automatic retry after failure; zero leaves retry to the caller.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Hooks connect the machine to the layers above it. Set once before Connect.
type Hooks struct {
	// OnConnected runs on entering connected. An error fails the session and
	// keepalive starts only after it returns nil.
	OnConnected func(ctx context.Context) error
	// OnNotification receives every server notification.
	OnNotification func(ctx context.Context, n kodi.Notification)
}

type activityReporter interface {
	LastActivity() time.Time
}

type timer struct {
	cancel context.CancelFunc
}

// Machine owns the transport, the correlator and every timer tied to the session.
type Machine struct {
	log *zap.Logger
	tr  ports.Transport
	rpc *rpc.Correlator

	opts Options

	mu          sync.Mutex
	state       State
	ep          kodi.Endpoint
	hooks       Hooks
	gen         uint64
	cancel      context.CancelFunc
	sessCtx     context.Context
	timers      map[string]*timer
	dialCancel  context.CancelFunc
	retryCancel context.CancelFunc
	retryDelay  time.Duration
	subs        map[int]func(State)
	nextSub     int

	alerts chan Alert

	// dialMu keeps at most one transport Connect in flight.
	dialMu sync.Mutex
}

// New creates a machine in the disconnected state.
func New(log *zap.Logger, tr ports.Transport, correlator *rpc.Correlator, ep kodi.Endpoint, opts Options) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 5 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = opts.RetryInitial
	}
	ep = ep.WithDefaults()
	correlator.SetEndpoint(ep)
	return &Machine{
		log:    log,
		tr:     tr,
		rpc:    correlator,
		opts:   opts,
		state:  Disconnected,
		ep:     ep,
		timers: map[string]*timer{},
		subs:   map[int]func(State){},
		alerts: make(chan Alert, 8),
	}
}

// SetHooks installs the connected and notification hooks.
func (m *Machine) SetHooks(h Hooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoint returns the configured endpoint.
func (m *Machine) Endpoint() kodi.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ep
}

// Snapshot describes the session for status output.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		State:      m.state,
		Endpoint:   m.ep.String(),
		RetryDelay: m.retryDelay,
	}
	m.mu.Unlock()
	if r, ok := m.tr.(activityReporter); ok {
		snap.LastActivity = r.LastActivity()
	}
	snap.Pending = m.rpc.Pending()
	return snap
}

// Subscribe registers fn for state changes and returns a function that removes it.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Alerts delivers failure alerts. Alerts are dropped when nobody drains the channel.
func (m *Machine) Alerts() <-chan Alert {
	return m.alerts
}

// Connect opens the session. It is a no-op while connecting or connected.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Connected || m.state == Connecting || m.state == Waking {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	gen := m.beginLocked(Connecting)
	m.mu.Unlock()
	m.publish(Connecting)
	return m.dial(ctx, gen)
}

// Retry reconnects a failed session.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Connected, Connecting, Waking:
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	gen := m.beginLocked(Connecting)
	m.mu.Unlock()
	m.log.Info("retrying connection", zap.String("endpoint", m.Endpoint().String()))
	m.publish(Connecting)
	return m.dial(ctx, gen)
}

// Sleep closes the session deliberately. No alert is raised.
func (m *Machine) Sleep() {
	m.shutdown(Sleeping, "sleep")
}

// Wake resumes a sleeping session.
func (m *Machine) Wake(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Connected, Connecting, Waking:
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	gen := m.beginLocked(Waking)
	m.mu.Unlock()
	m.publish(Waking)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return kodi.ErrNotConnected
	}
	m.state = Connecting
	m.mu.Unlock()
	m.publish(Connecting)
	return m.dial(ctx, gen)
}

// Disconnect closes the session and cancels automatic retry.
func (m *Machine) Disconnect() {
	m.shutdown(Disconnected, "disconnect")
}

// SetEndpoint switches to ep, reconnecting when a session is open.
func (m *Machine) SetEndpoint(ctx context.Context, ep kodi.Endpoint) error {
	ep = ep.WithDefaults()
	if err := ep.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	live := m.state == Connected || m.state == Connecting || m.state == Waking
	m.ep = ep
	m.mu.Unlock()
	m.rpc.SetEndpoint(ep)

	if !live {
		return nil
	}
	m.shutdown(Disconnected, "endpoint changed")
	return m.Connect(ctx)
}

// Schedule runs fn every interval while the session stays connected. fn
// returning true stops the timer. A timer with the same name is not replaced.
func (m *Machine) Schedule(name string, every time.Duration, fn func(ctx context.Context) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.sessCtx == nil {
		return
	}
	if _, ok := m.timers[name]; ok {
		return
	}
	ctx, cancel := context.WithCancel(m.sessCtx)
	t := &timer{cancel: cancel}
	m.timers[name] = t
	go m.runTimer(ctx, name, t, every, fn)
}

// Scheduled reports whether a timer named name is active.
func (m *Machine) Scheduled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[name]
	return ok
}

// Call issues params on the open session.
func (m *Machine) Call(ctx context.Context, params kodi.Params, out any) error {
	if m.State() != Connected {
		return kodi.ErrNotConnected
	}
	return m.rpc.Call(ctx, params, out)
}

// Go issues params now and returns a future for its response.
func (m *Machine) Go(ctx context.Context, params kodi.Params) ports.Future {
	if m.State() != Connected {
		return rpc.Failed(kodi.ErrNotConnected)
	}
	return m.rpc.Go(ctx, params)
}

// FireAndForget sends params over HTTP without awaiting a response.
func (m *Machine) FireAndForget(params kodi.Params) {
	if m.State() != Connected {
		m.log.Debug("drop one-shot request while not connected", zap.String("method", params.Method()))
		return
	}
	m.rpc.FireAndForget(params)
}

func (m *Machine) beginLocked(next State) uint64 {
	m.gen++
	m.state = next
	return m.gen
}

func (m *Machine) dial(ctx context.Context, gen uint64) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return kodi.ErrNotConnected
	}
	ep := m.ep
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	m.dialCancel = cancel
	m.mu.Unlock()

	err := m.tr.Connect(dialCtx, ep)
	cancel()

	m.mu.Lock()
	m.dialCancel = nil
	if m.gen != gen {
		m.mu.Unlock()
		// No newer dial can have started while dialMu is held, so this only
		// closes the connection opened above.
		if err == nil {
			m.tr.Disconnect("superseded connect")
		}
		return kodi.ErrNotConnected
	}
	if err != nil {
		m.mu.Unlock()
		m.fail(gen, err)
		return err
	}
	sessCtx, sessCancel := context.WithCancel(context.Background())
	m.sessCtx = sessCtx
	m.cancel = sessCancel
	m.state = Connected
	m.retryDelay = 0
	hooks := m.hooks
	frames := m.tr.Frames()
	m.mu.Unlock()

	m.log.Info("connected", zap.String("endpoint", ep.String()))
	go m.readLoop(sessCtx, gen, frames, hooks.OnNotification)
	m.publish(Connected)
	go m.enter(sessCtx, gen, hooks.OnConnected)
	return nil
}

func (m *Machine) enter(ctx context.Context, gen uint64, onConnected func(context.Context) error) {
	if onConnected != nil {
		if err := onConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.fail(gen, fmt.Errorf("probe: %w", err))
			return
		}
	}
	m.keepalive(ctx, gen)
}

func (m *Machine) keepalive(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tr.Send([]byte(KeepaliveFrame)); err != nil {
				m.fail(gen, fmt.Errorf("keepalive: %w", err))
				return
			}
		}
	}
}

func (m *Machine) readLoop(ctx context.Context, gen uint64, frames <-chan []byte, onNotification func(context.Context, kodi.Notification)) {
	for frame := range frames {
		n, ok := m.rpc.Dispatch(frame)
		if ok && onNotification != nil {
			onNotification(ctx, n)
		}
	}
	m.fail(gen, fmt.Errorf("%w: connection closed", kodi.ErrConnection))
}

func (m *Machine) runTimer(ctx context.Context, name string, t *timer, every time.Duration, fn func(context.Context) bool) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if fn(ctx) {
				m.mu.Lock()
				if m.timers[name] == t {
					delete(m.timers, name)
				}
				m.mu.Unlock()
				t.cancel()
				return
			}
		}
	}
}

// fail moves the session of generation gen to failed. Stale generations are ignored.
func (m *Machine) fail(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.state == Failed {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.tr.Disconnect("failed")
	m.state = Failed
	ep := m.ep
	retryIn := m.scheduleRetryLocked()
	m.mu.Unlock()

	m.rpc.FailAll(kodi.ErrNotConnected)
	m.log.Warn("session failed", zap.String("endpoint", ep.String()), zap.Error(err), zap.Duration("retry_in", retryIn))
	m.publish(Failed)
	m.raise(Alert{Kind: AlertHostUnavailable, Endpoint: ep, Err: err, At: time.Now(), RetryIn: retryIn})
}

func (m *Machine) shutdown(next State, reason string) {
	m.mu.Lock()
	m.stopRetryLocked()
	m.retryDelay = 0
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.tr.Disconnect(reason)
	m.gen++
	m.state = next
	m.mu.Unlock()

	m.rpc.FailAll(kodi.ErrNotConnected)
	m.log.Info("session closed", zap.String("reason", reason), zap.Stringer("state", next))
	m.publish(next)
}

func (m *Machine) teardownLocked() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.sessCtx = nil
	for name, t := range m.timers {
		t.cancel()
		delete(m.timers, name)
	}
}

func (m *Machine) scheduleRetryLocked() time.Duration {
	if m.opts.RetryInitial <= 0 {
		return 0
	}
	switch {
	case m.retryDelay == 0:
		m.retryDelay = m.opts.RetryInitial
	case m.retryDelay*2 > m.opts.RetryMax:
		m.retryDelay = m.opts.RetryMax
	default:
		m.retryDelay *= 2
	}
	delay := m.retryDelay
	ctx, cancel := context.WithCancel(context.Background())
	m.retryCancel = cancel
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := m.Retry(context.Background()); err != nil && !errors.Is(err, kodi.ErrNotConnected) {
			m.log.Debug("automatic retry failed", zap.Error(err))
		}
	}()
	return delay
}

func (m *Machine) stopRetryLocked() {
	if m.retryCancel != nil {
		m.retryCancel()
		m.retryCancel = nil
	}
}

func (m *Machine) publish(s State) {
	m.mu.Lock()
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (m *Machine) raise(a Alert) {
	select {
	case m.alerts <- a:
	default:
		m.log.Debug("alert dropped", zap.Error(a.Err))
	}
}
