package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mikey-austin/kodi_remote/internal/remote"
	"github.com/mikey-austin/kodi_remote/internal/rpc"
	"github.com/mikey-austin/kodi_remote/internal/session"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Config holds CLI configuration from config.toml.
type Config struct {
	Kodi     KodiConfig            `toml:"kodi"`
	Client   ClientConfig          `toml:"client"`
	Hosts    map[string]KodiConfig `toml:"hosts"`
	Defaults Defaults              `toml:"defaults"`
	Bridge   BridgeConfig          `toml:"bridge"`
}

// BridgeConfig locates the MQTT broker krd publishes on, for `kr bridge`.
type BridgeConfig struct {
	Broker    string `toml:"broker"`
	TopicBase string `toml:"topic_base"`
	Node      string `toml:"node"`
	User      string `toml:"user"`
	Pass      string `toml:"pass"`
	TLSCA     string `toml:"tls_ca"`
	TLSCert   string `toml:"tls_cert"`
	TLSKey    string `toml:"tls_key"`
}

// KodiConfig locates one Kodi instance.
type KodiConfig struct {
	Host     string `toml:"host"`
	HTTPPort int    `toml:"http_port"`
	WSPort   int    `toml:"ws_port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// ClientConfig tunes the session.
type ClientConfig struct {
	IDScheme       string `toml:"id_scheme"`
	CallTimeoutMS  int64  `toml:"call_timeout_ms"`
	KeepaliveMS    int64  `toml:"keepalive_ms"`
	ConnectMS      int64  `toml:"connect_timeout_ms"`
	RetryInitialMS int64  `toml:"retry_initial_ms"`
	RetryMaxMS     int64  `toml:"retry_max_ms"`
	ItemPollMS     int64  `toml:"item_poll_ms"`
}

// Defaults defines default selector values.
type Defaults struct {
	Host string `toml:"host"`
}

// Endpoint converts the config to an endpoint with default ports filled in.
func (k KodiConfig) Endpoint() kodi.Endpoint {
	return kodi.Endpoint{
		Host:     strings.TrimSpace(k.Host),
		HTTPPort: k.HTTPPort,
		WSPort:   k.WSPort,
		Username: k.Username,
		Password: k.Password,
	}.WithDefaults()
}

// Options converts the client settings for ep into remote options.
func (c ClientConfig) Options(ep kodi.Endpoint) (remote.Options, error) {
	scheme, err := rpc.ParseIDScheme(c.IDScheme)
	if err != nil {
		return remote.Options{}, err
	}
	for name, v := range map[string]int64{
		"call_timeout_ms":    c.CallTimeoutMS,
		"keepalive_ms":       c.KeepaliveMS,
		"connect_timeout_ms": c.ConnectMS,
		"retry_initial_ms":   c.RetryInitialMS,
		"retry_max_ms":       c.RetryMaxMS,
		"item_poll_ms":       c.ItemPollMS,
	} {
		if v < 0 {
			return remote.Options{}, fmt.Errorf("%s must not be negative", name)
		}
	}
	return remote.Options{
		Endpoint:    ep,
		IDScheme:    scheme,
		CallTimeout: ms(c.CallTimeoutMS),
		ItemPoll:    ms(c.ItemPollMS),
		Session: session.Options{
			KeepaliveInterval: ms(c.KeepaliveMS),
			ConnectTimeout:    ms(c.ConnectMS),
			RetryInitial:      ms(c.RetryInitialMS),
			RetryMax:          ms(c.RetryMaxMS),
		},
	}, nil
}

// ResolveHost picks the named host, the default host, or the [kodi] section.
// A name that is not configured is taken as a hostname.
func (c Config) ResolveHost(name string) (kodi.Endpoint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Defaults.Host
	}
	var ep kodi.Endpoint
	switch {
	case name == "":
		ep = c.Kodi.Endpoint()
	case c.Hosts[name].Host != "":
		ep = c.Hosts[name].Endpoint()
	default:
		k := c.Kodi
		k.Host = name
		ep = k.Endpoint()
	}
	if err := ep.Validate(); err != nil {
		return kodi.Endpoint{}, err
	}
	return ep, nil
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Load loads config.toml if present. Missing file returns an empty config.
func Load() (Config, error) {
	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile loads path. Missing file returns an empty config.
func LoadFile(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{Hosts: map[string]KodiConfig{}}, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Hosts == nil {
		cfg.Hosts = map[string]KodiConfig{}
	}
	return cfg, nil
}

func configPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kr", "config.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kr", "config.toml"), nil
}
