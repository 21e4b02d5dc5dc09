package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Options configures the transport.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	HTTPTimeout      time.Duration
	FrameBuffer      int
}

// Transport owns one WebSocket connection and a short-lived HTTP channel to Kodi.
type Transport struct {
	log    *zap.Logger
	opts   Options
	dialer websocket.Dialer
	http   *http.Client

	mu      sync.Mutex
	conn    *connection
	writeMu sync.Mutex

	lastActivity atomic.Int64
	oneShots     sync.WaitGroup
}

type connection struct {
	ws     *websocket.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// New creates a transport.
func New(log *zap.Logger, opts Options) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.HTTPTimeout == 0 {
		opts.HTTPTimeout = 5 * time.Second
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 64
	}
	return &Transport{
		log:    log,
		opts:   opts,
		dialer: websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		http:   &http.Client{Timeout: opts.HTTPTimeout},
	}
}

// Connect opens the streaming channel, closing any previous one first.
func (t *Transport) Connect(ctx context.Context, ep kodi.Endpoint) error {
	t.Disconnect("reconnect")

	anon := ep
	anon.Username, anon.Password = "", ""
	headers := http.Header{}
	if auth := basicAuth(ep); auth != "" {
		headers.Set("Authorization", auth)
	}

	ws, resp, err := t.dialer.DialContext(ctx, anon.WebSocketURL(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: websocket dial %s: %v (status %d)", kodi.ErrConnection, ep, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: websocket dial %s: %v", kodi.ErrConnection, ep, err)
	}

	conn := &connection{
		ws:     ws,
		frames: make(chan []byte, t.opts.FrameBuffer),
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	prev := t.conn
	t.conn = conn
	t.mu.Unlock()
	if prev != nil {
		// An overlapping Connect won the race; its socket is displaced.
		prev.close()
	}
	t.touch()

	go t.readLoop(conn)
	t.log.Debug("websocket connected", zap.String("endpoint", ep.String()))
	return nil
}

// Send writes one text frame on the open channel.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return kodi.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.ws.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %v", kodi.ErrConnection, err)
	}
	t.touch()
	return nil
}

// SendOneShot posts frame over HTTP without waiting for the response.
func (t *Transport) SendOneShot(ep kodi.Endpoint, frame []byte) {
	t.oneShots.Add(1)
	go func() {
		defer t.oneShots.Done()
		if err := t.post(ep, frame); err != nil {
			t.log.Warn("one-shot request failed", zap.String("endpoint", ep.String()), zap.Error(err))
		}
	}()
}

// WaitOneShots blocks until background HTTP requests have finished.
func (t *Transport) WaitOneShots() {
	t.oneShots.Wait()
}

func (t *Transport) post(ep kodi.Endpoint, frame []byte) error {
	anon := ep
	anon.Username, anon.Password = "", ""
	req, err := http.NewRequest(http.MethodPost, anon.HTTPURL(), bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.Username != "" || ep.Password != "" {
		req.SetBasicAuth(ep.Username, ep.Password)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("kodi http error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Frames returns the inbound frames of the current connection. The channel is
// closed when the connection ends.
func (t *Transport) Frames() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		closed := make(chan []byte)
		close(closed)
		return closed
	}
	return t.conn.frames
}

// Disconnect closes the streaming channel. Safe to call repeatedly.
func (t *Transport) Disconnect(reason string) {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return
	}
	t.log.Debug("websocket disconnect", zap.String("reason", reason))
	conn.close()
}

// LastActivity returns the time of the last frame sent or received.
func (t *Transport) LastActivity() time.Time {
	ns := t.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *Transport) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

func (t *Transport) readLoop(conn *connection) {
	defer close(conn.frames)
	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case <-conn.done:
			default:
				t.log.Debug("websocket read error", zap.Error(err))
			}
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			conn.close()
			return
		}
		t.touch()
		select {
		case conn.frames <- message:
		case <-conn.done:
			return
		}
	}
}

func basicAuth(ep kodi.Endpoint) string {
	if ep.Username == "" && ep.Password == "" {
		return ""
	}
	creds := ep.Username + ":" + ep.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}
