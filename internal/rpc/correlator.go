// Package rpc correlates JSON-RPC requests with their responses.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// DefaultTimeout bounds how long a call waits for its response.
const DefaultTimeout = 300 * time.Second

// IDScheme selects how request ids are minted.
type IDScheme int

const (
	// IDSequence mints a new id per call; concurrent calls to one method are independent.
	IDSequence IDScheme = iota
	// IDMethod uses the method name as id; a newer call supersedes an outstanding one.
	IDMethod
)

func (s IDScheme) String() string {
	if s == IDMethod {
		return "method"
	}
	return "sequence"
}

// ParseIDScheme parses a config value. Empty selects IDSequence.
func ParseIDScheme(value string) (IDScheme, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "sequence":
		return IDSequence, nil
	case "method":
		return IDMethod, nil
	default:
		return IDSequence, fmt.Errorf("unknown id scheme %q", value)
	}
}

// Sender is the part of the transport the correlator writes to.
type Sender interface {
	Send(frame []byte) error
	SendOneShot(ep kodi.Endpoint, frame []byte)
}

// Options configures a Correlator.
type Options struct {
	Timeout time.Duration
	Scheme  IDScheme
}

// Correlator tracks pending calls and resolves each exactly once.
type Correlator struct {
	log  *zap.Logger
	tr   Sender
	opts Options

	mu      sync.Mutex
	pending map[string]*pendingCall
	seq     uint64
	ep      kodi.Endpoint
}

type pendingCall struct {
	id       string
	method   string
	deadline time.Time
	done     chan outcome
	timer    *time.Timer
}

type outcome struct {
	result json.RawMessage
	err    error
}

// New creates a correlator writing to tr.
func New(log *zap.Logger, tr Sender, opts Options) *Correlator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Correlator{
		log:     log,
		tr:      tr,
		opts:    opts,
		pending: map[string]*pendingCall{},
	}
}

// SetEndpoint sets the endpoint used by FireAndForget.
func (c *Correlator) SetEndpoint(ep kodi.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ep = ep
}

// Call issues params and decodes the result into out.
func (c *Correlator) Call(ctx context.Context, params kodi.Params, out any) error {
	return c.Go(ctx, params).Wait(out)
}

// Go issues params now; the response is consumed later with Future.Wait.
func (c *Correlator) Go(ctx context.Context, params kodi.Params) *Future {
	method := params.Method()

	c.mu.Lock()
	id := c.nextIDLocked(method)
	call := &pendingCall{
		id:       id,
		method:   method,
		deadline: time.Now().Add(c.opts.Timeout),
		done:     make(chan outcome, 1),
	}
	frame, err := kodi.Encode(params, id)
	if err != nil {
		c.mu.Unlock()
		return Failed(err)
	}
	if previous, ok := c.pending[id]; ok {
		delete(c.pending, id)
		previous.finish(outcome{err: kodi.ErrSuperseded})
		c.log.Debug("call superseded", zap.String("id", id))
	}
	c.pending[id] = call
	call.timer = time.AfterFunc(c.opts.Timeout, func() {
		c.resolve(call, outcome{err: fmt.Errorf("%w: %s after %s", kodi.ErrTimeout, method, c.opts.Timeout)})
	})
	c.mu.Unlock()

	if err := c.tr.Send(frame); err != nil {
		c.resolve(call, outcome{err: err})
	}
	return &Future{c: c, call: call, ctx: ctx}
}

// FireAndForget sends params over the one-shot channel. No response is awaited.
func (c *Correlator) FireAndForget(params kodi.Params) {
	c.mu.Lock()
	id := c.nextIDLocked(params.Method())
	ep := c.ep
	c.mu.Unlock()

	frame, err := kodi.Encode(params, id)
	if err != nil {
		c.log.Warn("encode one-shot request", zap.String("method", params.Method()), zap.Error(err))
		return
	}
	c.tr.SendOneShot(ep, frame)
}

// Dispatch resolves a response frame or returns the notification it carries.
func (c *Correlator) Dispatch(frame []byte) (kodi.Notification, bool) {
	msg, err := kodi.Decode(frame)
	if err != nil {
		c.log.Debug("drop frame", zap.Error(err))
		return kodi.Notification{}, false
	}
	if msg.Kind == kodi.MessageNotification {
		return *msg.Notification, true
	}

	resp := msg.Response
	if resp.ID == "" {
		// Kodi answers the keepalive text frame with an id-less parse error.
		return kodi.Notification{}, false
	}
	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("unmatched response", zap.String("id", resp.ID))
		return kodi.Notification{}, false
	}
	if resp.Error != nil {
		rpcErr := *resp.Error
		rpcErr.Method = call.method
		c.resolve(call, outcome{err: &rpcErr})
	} else {
		c.resolve(call, outcome{result: resp.Result})
	}
	return kodi.Notification{}, false
}

// FailAll resolves every pending call with err.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = map[string]*pendingCall{}
	c.mu.Unlock()

	for _, call := range calls {
		call.finish(outcome{err: err})
	}
	if len(calls) > 0 {
		c.log.Debug("failed pending calls", zap.Int("count", len(calls)), zap.Error(err))
	}
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) nextIDLocked(method string) string {
	if c.opts.Scheme == IDMethod {
		return method
	}
	c.seq++
	return strconv.FormatUint(c.seq, 10)
}

func (c *Correlator) resolve(call *pendingCall, out outcome) {
	c.mu.Lock()
	current, ok := c.pending[call.id]
	if !ok || current != call {
		c.mu.Unlock()
		return
	}
	delete(c.pending, call.id)
	c.mu.Unlock()
	call.finish(out)
}

// finish is only reached by the goroutine that removed call from the registry.
func (p *pendingCall) finish(out outcome) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- out
}

// Future is an issued call awaiting its response.
type Future struct {
	c    *Correlator
	call *pendingCall
	ctx  context.Context
	err  error
}

// Failed returns a future that resolves immediately with err.
func Failed(err error) *Future {
	return &Future{err: err}
}

// Wait blocks until the call resolves and decodes the result into out.
func (f *Future) Wait(out any) error {
	if f.err != nil {
		return f.err
	}
	ctx := f.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case res := <-f.call.done:
		if res.err != nil {
			return res.err
		}
		if err := kodi.DecodeResult(res.result, out); err != nil {
			return fmt.Errorf("%s: %w", f.call.method, err)
		}
		return nil
	case <-ctx.Done():
		f.c.resolve(f.call, outcome{err: ctx.Err()})
		return ctx.Err()
	}
}
