// Package discovery finds Kodi hosts on the local network over mDNS.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// ServiceType is the service Kodi advertises for its HTTP JSON-RPC endpoint.
const ServiceType = "_xbmc-jsonrpc-h._tcp"

// Host is one discovered Kodi instance.
type Host struct {
	Name     string        `json:"name"`
	Endpoint kodi.Endpoint `json:"endpoint"`
	Info     []string      `json:"info,omitempty"`
}

// QueryFunc runs an mDNS query. It matches mdns.QueryContext.
type QueryFunc func(ctx context.Context, params *mdns.QueryParam) error

// Browser queries the network for Kodi hosts.
type Browser struct {
	log     *zap.Logger
	timeout time.Duration
	query   QueryFunc
}

// NewBrowser creates a browser that waits timeout for answers.
func NewBrowser(log *zap.Logger, timeout time.Duration) *Browser {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Browser{log: log, timeout: timeout, query: mdns.QueryContext}
}

// WithQuery replaces the mDNS query function.
func (b *Browser) WithQuery(q QueryFunc) *Browser {
	b.query = q
	return b
}

// Browse returns the hosts that answered within the timeout, sorted by name.
func (b *Browser) Browse(ctx context.Context) ([]Host, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var (
		mu    sync.Mutex
		hosts = map[string]Host{}
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host, ok := hostFromEntry(entry)
			if !ok {
				continue
			}
			b.log.Debug("discovered kodi", zap.String("name", host.Name), zap.String("endpoint", host.Endpoint.String()))
			mu.Lock()
			hosts[host.Endpoint.Host+":"+fmt.Sprint(host.Endpoint.HTTPPort)] = host
			mu.Unlock()
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Domain = "local"
	params.Timeout = b.timeout
	params.Entries = entries
	params.DisableIPv6 = true
	err := b.query(ctx, params)
	close(entries)
	wg.Wait()
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}

	out := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Endpoint.Host < out[j].Endpoint.Host
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func hostFromEntry(entry *mdns.ServiceEntry) (Host, bool) {
	if entry == nil || entry.Port <= 0 {
		return Host{}, false
	}
	var addr string
	switch {
	case entry.AddrV4 != nil:
		addr = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		addr = entry.AddrV6.String()
	default:
		addr = strings.TrimSuffix(entry.Host, ".")
	}
	if addr == "" {
		return Host{}, false
	}
	return Host{
		Name: instanceName(entry.Name),
		Endpoint: kodi.Endpoint{
			Host:     addr,
			HTTPPort: entry.Port,
			WSPort:   kodi.DefaultWSPort,
		},
		Info: entry.InfoFields,
	}, true
}

func instanceName(full string) string {
	name := strings.TrimSuffix(full, ".")
	if idx := strings.Index(name, "."+ServiceType); idx >= 0 {
		name = name[:idx]
	}
	return strings.ReplaceAll(name, `\ `, " ")
}
