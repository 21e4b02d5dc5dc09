// Package kodifake provides an in-process Kodi JSON-RPC server for tests.
package kodifake

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Handler answers one request. A non-nil error object is sent instead of the result.
type Handler func(params json.RawMessage) (any, *kodi.RPCError)

// Server speaks JSON-RPC over WebSocket and HTTP POST on /jsonrpc.
type Server struct {
	t        testing.TB
	srv      *httptest.Server
	upgrader websocket.Upgrader

	Username string
	Password string

	mu       sync.Mutex
	handlers map[string]Handler
	conns    map[*websocket.Conn]*sync.Mutex
	calls    []string
	posts    []kodi.Request
	pings    int
	silent   map[string]bool

	callCh chan string
	postCh chan kodi.Request
}

// New starts a server; it is closed by t.Cleanup.
func New(t testing.TB) *Server {
	s := &Server{
		t:        t,
		handlers: map[string]Handler{},
		conns:    map[*websocket.Conn]*sync.Mutex{},
		silent:   map[string]bool{},
		callCh:   make(chan string, 256),
		postCh:   make(chan kodi.Request, 64),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns an endpoint pointing at the server for both channels.
func (s *Server) Endpoint() kodi.Endpoint {
	host, portStr, _ := net.SplitHostPort(s.srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return kodi.Endpoint{
		Host:     host,
		HTTPPort: port,
		WSPort:   port,
		Username: s.Username,
		Password: s.Password,
	}
}

// Handle registers the answer for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Result registers a static result for method.
func (s *Server) Result(method string, result any) {
	s.Handle(method, func(json.RawMessage) (any, *kodi.RPCError) { return result, nil })
}

// Silence makes the server swallow requests for method without answering.
func (s *Server) Silence(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[method] = true
}

// Calls returns the methods received over WebSocket in arrival order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCh delivers each WebSocket method as it arrives.
func (s *Server) CallCh() <-chan string {
	return s.callCh
}

// PostCh delivers each HTTP request as it arrives.
func (s *Server) PostCh() <-chan kodi.Request {
	return s.postCh
}

// Pings returns the number of "ping" text frames seen.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Notify pushes a notification to every connected client.
func (s *Server) Notify(method string, data any) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": kodi.Version,
		"method":  method,
		"params":  map[string]any{"sender": "xbmc", "data": data},
	})
	if err != nil {
		s.t.Fatalf("marshal notification: %v", err)
	}
	s.broadcast(payload)
}

// Push writes a raw frame to every connected client.
func (s *Server) Push(frame []byte) {
	s.broadcast(frame)
}

// DropConnections closes every open WebSocket.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Connections returns the number of open WebSockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != kodi.RPCPath {
		http.NotFound(w, r)
		return
	}
	if s.Username != "" || s.Password != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWS(w, r)
		return
	}
	s.servePost(w, r)
}

func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req, err := kodi.DecodeRequest(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.posts = append(s.posts, req)
	s.mu.Unlock()
	select {
	case s.postCh <- req:
	default:
	}
	reply, ok := s.answer(req)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(reply)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = writeMu
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(frame) == "ping" {
			s.mu.Lock()
			s.pings++
			s.mu.Unlock()
			s.write(conn, writeMu, []byte(`{"error":{"code":-32700,"message":"Parse error."},"id":null,"jsonrpc":"2.0"}`))
			continue
		}
		req, err := kodi.DecodeRequest(frame)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.calls = append(s.calls, req.Method)
		s.mu.Unlock()
		select {
		case s.callCh <- req.Method:
		default:
		}
		if reply, ok := s.answer(req); ok {
			s.write(conn, writeMu, reply)
		}
	}
}

func (s *Server) answer(req kodi.Request) ([]byte, bool) {
	s.mu.Lock()
	h, ok := s.handlers[req.Method]
	silent := s.silent[req.Method]
	s.mu.Unlock()
	if silent {
		return nil, false
	}

	reply := map[string]any{"jsonrpc": kodi.Version, "id": req.ID}
	switch {
	case !ok:
		reply["result"] = "OK"
	default:
		result, rpcErr := h(req.Params)
		if rpcErr != nil {
			reply["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
		} else {
			reply["result"] = result
		}
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		s.t.Errorf("marshal reply: %v", err)
		return nil, false
	}
	return payload, true
}

func (s *Server) broadcast(frame []byte) {
	s.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, m := range s.conns {
		targets[c] = m
	}
	s.mu.Unlock()
	for c, m := range targets {
		s.write(c, m, frame)
	}
}

func (s *Server) write(conn *websocket.Conn, mu *sync.Mutex, frame []byte) {
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}
