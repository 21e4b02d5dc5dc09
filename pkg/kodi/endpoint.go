package kodi

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Default ports used by Kodi for its web server and WebSocket JSON-RPC service.
const (
	DefaultHTTPPort = 8080
	DefaultWSPort   = 9090
	RPCPath         = "/jsonrpc"
)

// Endpoint identifies one controllable Kodi instance.
type Endpoint struct {
	Host     string `json:"host"`
	HTTPPort int    `json:"httpPort"`
	WSPort   int    `json:"wsPort"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
}

// WithDefaults fills unset ports.
func (e Endpoint) WithDefaults() Endpoint {
	e.Host = strings.TrimSpace(e.Host)
	if e.HTTPPort == 0 {
		e.HTTPPort = DefaultHTTPPort
	}
	if e.WSPort == 0 {
		e.WSPort = DefaultWSPort
	}
	return e
}

// Validate checks the endpoint is usable.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return errors.New("host required")
	}
	if e.HTTPPort < 1 || e.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", e.HTTPPort)
	}
	if e.WSPort < 1 || e.WSPort > 65535 {
		return fmt.Errorf("invalid websocket port %d", e.WSPort)
	}
	return nil
}

// HTTPURL returns the JSON-RPC URL for one-shot HTTP POST requests,
// with credentials embedded when set.
func (e Endpoint) HTTPURL() string {
	return e.url("http", e.HTTPPort)
}

// WebSocketURL returns the JSON-RPC URL for the streaming channel.
func (e Endpoint) WebSocketURL() string {
	return e.url("ws", e.WSPort)
}

// String returns host:port of the WebSocket service without credentials.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.WSPort))
}

func (e Endpoint) url(scheme string, port int) string {
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(port)),
		Path:   RPCPath,
	}
	if e.Username != "" || e.Password != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u.String()
}
