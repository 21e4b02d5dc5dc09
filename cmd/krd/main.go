package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/adapters/discovery"
	"github.com/mikey-austin/kodi_remote/internal/adapters/mqttserver"
	"github.com/mikey-austin/kodi_remote/internal/krd"
	embeddedmqtt "github.com/mikey-austin/kodi_remote/internal/modules/embedded_mqtt"
	kodibridge "github.com/mikey-austin/kodi_remote/internal/modules/kodi_bridge"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
)

const (
	moduleEmbeddedMQTT = "embedded_mqtt"
	moduleKodiBridge   = "kodi_bridge"
)

func main() {
	var (
		configPath  string
		broker      string
		identity    string
		topicBase   string
		logLevel    string
		logFormat   string
		logOutput   string
		logSource   bool
		logUTC      bool
		logColor    bool
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := krd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&identity, "identity", "", "server identity override")
	flag.StringVar(&topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (text|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&logSource, "log-source", false, "include source file in logs")
	flag.BoolVar(&logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.BoolVar(&logColor, "log-color", false, "enable colored log output (text only)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := krd.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, overrides{
		broker:    broker,
		identity:  identity,
		topicBase: topicBase,
		logLevel:  logLevel,
		logFormat: logFormat,
		logOutput: logOutput,
		logSource: logSource,
		logUTC:    logUTC,
		logColor:  logColor,
	})

	if printConfig {
		if err := printResolvedConfig(os.Stdout, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if dryRun {
		if _, err := buildModules(cfg, nil, zap.NewNop(), moduleOnly, false); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := krd.NewLogger(krd.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	skipEmbedded := false
	if moduleOnly == "" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Modules.KodiBridge.Enabled && cfg.Server.Broker == embeddedConfig(cfg).URL() {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			logger.Error("embedded mqtt failed", zap.Error(err))
			os.Exit(1)
		}
		skipEmbedded = true
	}

	runBridge := cfg.Modules.KodiBridge.Enabled && (moduleOnly == "" || moduleOnly == moduleKodiBridge)
	if runBridge && cfg.Server.Broker == "" {
		logger.Error("broker is required")
		os.Exit(1)
	}
	logger.Info("krd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("log_level", cfg.Server.LogLevel),
		zap.String("log_format", cfg.Server.LogFormat),
		zap.Strings("modules", enabledModules(cfg)),
	)

	var client *mqttserver.Client
	if runBridge {
		will, err := bridgeWill(cfg)
		if err != nil {
			logger.Error("failed to build last will", zap.Error(err))
			os.Exit(1)
		}
		opts := mqttserver.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  "krd-" + uuid.NewString(),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLSCA:     cfg.Server.TLS.CA,
			TLSCert:   cfg.Server.TLS.Cert,
			TLSKey:    cfg.Server.TLS.Key,
			Timeout:   2 * time.Second,
			Logger:    logger.With(zap.String("component", "mqtt")),
			Debug:     strings.EqualFold(cfg.Server.LogLevel, "debug"),
			Will:      will,
		}
		client, err = mqttserver.NewClient(opts)
		if err != nil {
			logger.Error("mqtt connection failed", zap.Error(err))
			os.Exit(1)
		}
		defer client.Close()
	}

	modules, err := buildModules(cfg, client, logger, moduleOnly, skipEmbedded)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}

	supervisor := krd.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

type overrides struct {
	broker    string
	identity  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logSource bool
	logUTC    bool
	logColor  bool
}

func applyOverrides(cfg *krd.Config, o overrides) {
	if o.broker != "" {
		cfg.Server.Broker = o.broker
	}
	if o.identity != "" {
		cfg.Server.Identity = o.identity
	}
	if o.topicBase != "" {
		cfg.Server.TopicBase = o.topicBase
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Server.LogFormat = o.logFormat
	}
	if o.logOutput != "" {
		cfg.Server.LogOutput = o.logOutput
	}
	if o.logSource {
		cfg.Server.LogSource = true
	}
	if o.logUTC {
		cfg.Server.LogUTC = true
	}
	if o.logColor {
		cfg.Server.LogColor = true
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = bus.BaseTopic
	}
	if cfg.Server.Identity == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Server.Identity = host
		}
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedConfig(*cfg).URL()
	}
	if cfg.Modules.KodiBridge.NodeID == "" {
		cfg.Modules.KodiBridge.NodeID = defaultNodeID(cfg.Server.Identity)
	}
}

// defaultNodeID derives a topic-safe node id from the server identity.
func defaultNodeID(identity string) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		identity = "default"
	}
	identity = strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '-'
		}
		return r
	}, identity)
	return "kr:kodi:" + identity
}

func embeddedConfig(cfg krd.Config) embeddedmqtt.Config {
	return embeddedmqtt.Config{
		Listen:         cfg.Modules.EmbeddedMQTT.Listen,
		AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.Modules.EmbeddedMQTT.Username,
		Password:       cfg.Modules.EmbeddedMQTT.Password,
		TLSCA:          cfg.Modules.EmbeddedMQTT.TLSCA,
		TLSCert:        cfg.Modules.EmbeddedMQTT.TLSCert,
		TLSKey:         cfg.Modules.EmbeddedMQTT.TLSKey,
	}
}

func bridgeWill(cfg krd.Config) (*mqttserver.Will, error) {
	bridge := cfg.Modules.KodiBridge
	payload, err := kodibridge.PresencePayload(bridge.NodeID, bridge.Name, bridge.Kodi.Endpoint().String(), false)
	if err != nil {
		return nil, err
	}
	return &mqttserver.Will{
		Topic:    bus.TopicPresence(cfg.Server.TopicBase, bridge.NodeID),
		Payload:  payload,
		Retained: true,
	}, nil
}

func bridgeConfig(cfg krd.Config, logger *zap.Logger) (kodibridge.Config, error) {
	bridge := cfg.Modules.KodiBridge
	ep := bridge.Kodi.Endpoint()
	opts, err := bridge.Client.Options(ep)
	if err != nil {
		return kodibridge.Config{}, err
	}
	// The daemon always reconnects on its own.
	if opts.Session.RetryInitial == 0 {
		opts.Session.RetryInitial = time.Second
	}
	if opts.Session.RetryMax == 0 {
		opts.Session.RetryMax = 30 * time.Second
	}

	out := kodibridge.Config{
		NodeID:    bridge.NodeID,
		TopicBase: cfg.Server.TopicBase,
		Name:      bridge.Name,
		Remote:    opts,
	}
	if ep.Host == "" {
		if !bridge.Discover {
			return kodibridge.Config{}, errors.New("kodi_bridge needs kodi.host or discover = true")
		}
		browser := discovery.NewBrowser(logger.With(zap.String("component", "discovery")), time.Duration(bridge.DiscoverTimeoutMS)*time.Millisecond)
		out.Discover = browser.Browse
	} else if err := ep.Validate(); err != nil {
		return kodibridge.Config{}, fmt.Errorf("kodi_bridge: %w", err)
	}
	return out, nil
}

func buildModules(cfg krd.Config, client *mqttserver.Client, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]krd.ModuleRunner, error) {
	modules := []krd.ModuleRunner{}
	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded {
		if moduleOnly == "" || moduleOnly == moduleEmbeddedMQTT {
			mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", moduleEmbeddedMQTT)), embeddedConfig(cfg))
			if err != nil {
				return nil, err
			}
			modules = append(modules, krd.ModuleRunner{
				Name: moduleEmbeddedMQTT,
				Run:  mod.Run,
			})
		}
	}

	if cfg.Modules.KodiBridge.Enabled {
		if moduleOnly == "" || moduleOnly == moduleKodiBridge {
			bridgeCfg, err := bridgeConfig(cfg, logger)
			if err != nil {
				return nil, err
			}
			mod, err := kodibridge.NewModule(logger.With(zap.String("module", moduleKodiBridge)), client, bridgeCfg)
			if err != nil {
				return nil, err
			}
			modules = append(modules, krd.ModuleRunner{
				Name: moduleKodiBridge,
				Run:  mod.Run,
			})
		}
	}

	if len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func enabledModules(cfg krd.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, moduleEmbeddedMQTT)
	}
	if cfg.Modules.KodiBridge.Enabled {
		out = append(out, moduleKodiBridge)
	}
	return out
}

func printResolvedConfig(w io.Writer, cfg krd.Config) error {
	_, err := fmt.Fprintf(w,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s log_source=%t log_utc=%t log_color=%t node_id=%s kodi=%s modules=%s\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		cfg.Server.LogSource,
		cfg.Server.LogUTC,
		cfg.Server.LogColor,
		cfg.Modules.KodiBridge.NodeID,
		cfg.Modules.KodiBridge.Kodi.Host,
		strings.Join(enabledModules(cfg), ","),
	)
	return err
}

func startEmbeddedBroker(ctx context.Context, cfg krd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", moduleEmbeddedMQTT)), embeddedConfig(cfg))
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()

	select {
	case <-mod.Ready():
	case err := <-errCh:
		if err == nil {
			err = errors.New("embedded mqtt stopped before listening")
		}
		return err
	case <-time.After(3 * time.Second):
		return fmt.Errorf("embedded mqtt not ready at %s", embeddedConfig(cfg).URL())
	}

	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()
	return nil
}
