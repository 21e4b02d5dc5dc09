package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey-austin/kodi_remote/internal/adapters/transport"
	"github.com/mikey-austin/kodi_remote/internal/kodifake"
	"github.com/mikey-austin/kodi_remote/internal/rpc"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	sendErr    error
	frames     chan []byte
	connects   int
	pings      int
	endpoints  []kodi.Endpoint
	silent     bool
}

func (f *fakeTransport) Connect(_ context.Context, ep kodi.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	if f.connectErr != nil {
		return fmt.Errorf("%w: %v", kodi.ErrConnection, f.connectErr)
	}
	f.connects++
	f.endpoints = append(f.endpoints, ep)
	f.frames = make(chan []byte, 16)
	return nil
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frames == nil {
		return kodi.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	if string(frame) == KeepaliveFrame {
		f.pings++
		return nil
	}
	if f.silent {
		return nil
	}
	req, err := kodi.DecodeRequest(frame)
	if err != nil {
		return nil
	}
	f.frames <- []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":"OK"}`, req.ID))
	return nil
}

func (f *fakeTransport) SendOneShot(kodi.Endpoint, []byte) {}

func (f *fakeTransport) Frames() <-chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frames == nil {
		closed := make(chan []byte)
		close(closed)
		return closed
	}
	return f.frames
}

func (f *fakeTransport) Disconnect(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *fakeTransport) closeLocked() {
	if f.frames != nil {
		close(f.frames)
		f.frames = nil
	}
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) counts() (connects, pings int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.pings
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func record(m *Machine) *stateRecorder {
	r := &stateRecorder{ch: make(chan State, 64)}
	m.Subscribe(func(s State) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
		r.ch <- s
	})
	return r
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newMachine(tr *fakeTransport, opts Options) *Machine {
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 10 * time.Millisecond
	}
	c := rpc.New(nil, tr, rpc.Options{Timeout: time.Second})
	return New(nil, tr, c, kodi.Endpoint{Host: "kodi.local"}, opts)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRunsHookThenKeepalive(t *testing.T) {
	tr := &fakeTransport{}
	m := newMachine(tr, Options{})
	rec := record(m)

	var hookCalls atomic.Int32
	m.SetHooks(Hooks{OnConnected: func(ctx context.Context) error {
		hookCalls.Add(1)
		if _, pings := tr.counts(); pings != 0 {
			t.Errorf("keepalive started before probe")
		}
		return m.Call(ctx, kodi.ApplicationGetProperties{}, nil)
	}})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()
	if m.State() != Connected {
		t.Fatalf("expected connected, got %s", m.State())
	}
	waitUntil(t, "keepalive", func() bool {
		_, pings := tr.counts()
		return pings >= 2
	})
	if hookCalls.Load() != 1 {
		t.Fatalf("expected hook once, got %d", hookCalls.Load())
	}
	got := rec.all()
	if len(got) < 2 || got[0] != Connecting || got[1] != Connected {
		t.Fatalf("unexpected transitions: %v", got)
	}
}

func TestConnectFailureRaisesAlert(t *testing.T) {
	tr := &fakeTransport{connectErr: errors.New("refused")}
	m := newMachine(tr, Options{})

	err := m.Connect(context.Background())
	if !errors.Is(err, kodi.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if m.State() != Failed {
		t.Fatalf("expected failed, got %s", m.State())
	}
	select {
	case alert := <-m.Alerts():
		if alert.Kind != AlertHostUnavailable || alert.Endpoint.Host != "kodi.local" {
			t.Fatalf("unexpected alert: %+v", alert)
		}
	case <-time.After(time.Second):
		t.Fatalf("no alert")
	}
	if err := m.Call(context.Background(), kodi.PlayerStop{}, nil); !errors.Is(err, kodi.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := m.Go(context.Background(), kodi.PlayerStop{}).Wait(nil); !errors.Is(err, kodi.ErrNotConnected) {
		t.Fatalf("expected not connected future, got %v", err)
	}
}

func TestKeepaliveFailureThenRetry(t *testing.T) {
	tr := &fakeTransport{}
	m := newMachine(tr, Options{})
	rec := record(m)

	var hookCalls atomic.Int32
	m.SetHooks(Hooks{OnConnected: func(ctx context.Context) error {
		hookCalls.Add(1)
		return m.Call(ctx, kodi.ApplicationGetProperties{}, nil)
	}})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()
	waitUntil(t, "first ping", func() bool {
		_, pings := tr.counts()
		return pings >= 1
	})

	tr.set(func(f *fakeTransport) { f.sendErr = errors.New("broken pipe") })
	rec.waitFor(t, Failed)
	select {
	case <-m.Alerts():
	case <-time.After(time.Second):
		t.Fatalf("expected alert after keepalive failure")
	}

	tr.set(func(f *fakeTransport) { f.sendErr = nil })
	if err := m.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if m.State() != Connected {
		t.Fatalf("expected connected after retry, got %s", m.State())
	}
	waitUntil(t, "entry sequence rerun", func() bool { return hookCalls.Load() == 2 })
}

func TestConnectionLossFailsPendingCalls(t *testing.T) {
	tr := &fakeTransport{silent: true}
	m := newMachine(tr, Options{KeepaliveInterval: time.Hour})
	rec := record(m)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	f := m.Go(context.Background(), kodi.PlayerGetItem{})
	tr.Disconnect("server gone")

	rec.waitFor(t, Failed)
	if err := f.Wait(nil); !errors.Is(err, kodi.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestProbeFailureFailsSession(t *testing.T) {
	tr := &fakeTransport{}
	m := newMachine(tr, Options{})
	rec := record(m)
	m.SetHooks(Hooks{OnConnected: func(context.Context) error { return errors.New("no answer") }})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.waitFor(t, Failed)
	if _, pings := tr.counts(); pings != 0 {
		t.Fatalf("keepalive must not start after failed probe")
	}
}

func TestSleepAndWake(t *testing.T) {
	tr := &fakeTransport{}
	m := newMachine(tr, Options{})
	rec := record(m)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	m.Sleep()
	if m.State() != Sleeping {
		t.Fatalf("expected sleeping, got %s", m.State())
	}
	select {
	case a := <-m.Alerts():
		t.Fatalf("unexpected alert on sleep: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.Wake(context.Background()); err != nil {
		t.Fatalf("wake: %v", err)
	}
	defer m.Disconnect()
	got := rec.all()
	want := []State{Connecting, Connected, Sleeping, Waking, Connecting, Connected}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	if connects, _ := tr.counts(); connects != 2 {
		t.Fatalf("expected 2 connects, got %d", connects)
	}
}

func TestScheduleStopsOnDoneAndOnDisconnect(t *testing.T) {
	tr := &fakeTransport{}
	m := newMachine(tr, Options{KeepaliveInterval: time.Hour})

	m.Schedule("early", time.Millisecond, func(context.Context) bool { return true })
	if m.Scheduled("early") {
		t.Fatalf("timers must not start while disconnected")
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var runs atomic.Int32
	m.Schedule("poll", 5*time.Millisecond, func(context.Context) bool {
		return runs.Add(1) == 3
	})
	waitUntil(t, "poll completes", func() bool { return !m.Scheduled("poll") })
	if runs.Load() != 3 {
		t.Fatalf("expected 3 runs, got %d", runs.Load())
	}

	m.Schedule("forever", 5*time.Millisecond, func(context.Context) bool { return false })
	if !m.Scheduled("forever") {
		t.Fatalf("expected timer")
	}
	m.Disconnect()
	if m.Scheduled("forever") {
		t.Fatalf("disconnect must cancel timers")
	}
}

func TestAutomaticRetryBacksOff(t *testing.T) {
	tr := &fakeTransport{connectErr: errors.New("refused")}
	m := newMachine(tr, Options{RetryInitial: 10 * time.Millisecond, RetryMax: 20 * time.Millisecond})
	rec := record(m)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatalf("expected first connect to fail")
	}
	first := <-m.Alerts()
	if first.RetryIn != 10*time.Millisecond {
		t.Fatalf("unexpected first retry delay %s", first.RetryIn)
	}
	second := <-m.Alerts()
	if second.RetryIn != 20*time.Millisecond {
		t.Fatalf("unexpected second retry delay %s", second.RetryIn)
	}

	tr.set(func(f *fakeTransport) { f.connectErr = nil })
	rec.waitFor(t, Connected)
	m.Disconnect()
	if snap := m.Snapshot(); snap.RetryDelay != 0 || snap.State != Disconnected {
		t.Fatalf("unexpected snapshot after disconnect: %+v", snap)
	}
}

func TestSetEndpointReconnects(t *testing.T) {
	tr := &fakeTransport{}
	m := newMachine(tr, Options{})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if err := m.SetEndpoint(context.Background(), kodi.Endpoint{Host: "other.local"}); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}
	if m.State() != Connected {
		t.Fatalf("expected connected, got %s", m.State())
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.endpoints) != 2 || tr.endpoints[1].Host != "other.local" || tr.endpoints[1].WSPort != kodi.DefaultWSPort {
		t.Fatalf("unexpected endpoints: %+v", tr.endpoints)
	}
}

// gatedTransport holds the first Connect until the gate opens. With
// honorCtx set the held dial also returns when its context is cancelled.
type gatedTransport struct {
	*fakeTransport
	gate     chan struct{}
	entered  chan struct{}
	honorCtx bool
	once     sync.Once
}

func newGatedTransport(honorCtx bool) *gatedTransport {
	return &gatedTransport{
		fakeTransport: &fakeTransport{},
		gate:          make(chan struct{}),
		entered:       make(chan struct{}),
		honorCtx:      honorCtx,
	}
}

func (g *gatedTransport) Connect(ctx context.Context, ep kodi.Endpoint) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		if g.honorCtx {
			select {
			case <-g.gate:
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", kodi.ErrConnection, ctx.Err())
			}
		} else {
			<-g.gate
		}
	}
	return g.fakeTransport.Connect(ctx, ep)
}

func TestSetEndpointDuringDialKeepsNewSession(t *testing.T) {
	tr := newGatedTransport(false)
	c := rpc.New(nil, tr, rpc.Options{Timeout: time.Second})
	m := New(nil, tr, c, kodi.Endpoint{Host: "a.local"}, Options{KeepaliveInterval: 10 * time.Millisecond})
	defer m.Disconnect()

	staleErr := make(chan error, 1)
	go func() { staleErr <- m.Connect(context.Background()) }()
	<-tr.entered

	switched := make(chan error, 1)
	go func() { switched <- m.SetEndpoint(context.Background(), kodi.Endpoint{Host: "b.local"}) }()
	time.Sleep(20 * time.Millisecond)
	close(tr.gate)

	if err := <-staleErr; !errors.Is(err, kodi.ErrNotConnected) {
		t.Fatalf("expected superseded dial to report not connected, got %v", err)
	}
	if err := <-switched; err != nil {
		t.Fatalf("set endpoint: %v", err)
	}
	if m.State() != Connected {
		t.Fatalf("expected connected, got %s", m.State())
	}

	// Keepalive pings succeed only while the new connection is open.
	_, before := tr.counts()
	waitUntil(t, "keepalive on new session", func() bool {
		_, pings := tr.counts()
		return pings > before+2
	})
	if m.State() != Connected {
		t.Fatalf("stale dial tore down the new session: %s", m.State())
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	last := tr.endpoints[len(tr.endpoints)-1]
	if last.Host != "b.local" {
		t.Fatalf("expected final endpoint b.local, got %+v", tr.endpoints)
	}
}

func TestSleepCancelsPendingDial(t *testing.T) {
	tr := newGatedTransport(true)
	c := rpc.New(nil, tr, rpc.Options{Timeout: time.Second})
	m := New(nil, tr, c, kodi.Endpoint{Host: "kodi.local"}, Options{
		KeepaliveInterval: 10 * time.Millisecond,
		ConnectTimeout:    time.Minute,
	})
	defer m.Disconnect()

	staleErr := make(chan error, 1)
	go func() { staleErr <- m.Connect(context.Background()) }()
	<-tr.entered

	m.Sleep()
	select {
	case err := <-staleErr:
		if !errors.Is(err, kodi.ErrNotConnected) {
			t.Fatalf("expected not connected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sleep did not cancel the pending dial")
	}
	if m.State() != Sleeping {
		t.Fatalf("expected sleeping, got %s", m.State())
	}

	if err := m.Wake(context.Background()); err != nil {
		t.Fatalf("wake: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if m.State() != Connected {
		t.Fatalf("expected connected after wake, got %s", m.State())
	}
}

func TestSetEndpointRejectsInvalid(t *testing.T) {
	m := newMachine(&fakeTransport{}, Options{})
	if err := m.SetEndpoint(context.Background(), kodi.Endpoint{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestServerDropAgainstFakeKodi(t *testing.T) {
	srv := kodifake.New(t)
	srv.Result(kodi.MethodApplicationGetProperties, map[string]any{"volume": 20, "muted": false, "name": "Kodi"})

	tr := transport.New(nil, transport.Options{})
	c := rpc.New(nil, tr, rpc.Options{Timeout: time.Second})
	m := New(nil, tr, c, srv.Endpoint(), Options{KeepaliveInterval: 10 * time.Millisecond})
	rec := record(m)

	var probes atomic.Int32
	m.SetHooks(Hooks{OnConnected: func(ctx context.Context) error {
		probes.Add(1)
		var props kodi.ApplicationProperties
		return m.Call(ctx, kodi.ApplicationGetProperties{Properties: kodi.ApplicationPropertyNames}, &props)
	}})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()
	waitUntil(t, "server sees pings", func() bool { return srv.Pings() > 0 })

	srv.DropConnections()
	rec.waitFor(t, Failed)
	<-m.Alerts()

	if err := m.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitUntil(t, "second probe", func() bool { return probes.Load() == 2 })
}
