// Package kodibridge holds one Kodi session open and mirrors it onto MQTT.
package kodibridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodi_remote/internal/adapters/discovery"
	"github.com/mikey-austin/kodi_remote/internal/adapters/mqttserver"
	"github.com/mikey-austin/kodi_remote/internal/adapters/transport"
	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/internal/remote"
	"github.com/mikey-austin/kodi_remote/internal/session"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// mqttClient abstracts MQTT operations.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// DiscoverFunc lists Kodi hosts on the network.
type DiscoverFunc func(ctx context.Context) ([]discovery.Host, error)

// Config configures the bridge.
type Config struct {
	NodeID    string
	TopicBase string
	Name      string
	Remote    remote.Options
	// Discover is consulted when Remote.Endpoint has no host.
	Discover DiscoverFunc
}

// Module bridges a Kodi session onto MQTT.
type Module struct {
	log    *zap.Logger
	client mqttClient
	tr     ports.Transport
	config Config
	remote *remote.Remote
	dirty  chan struct{}
}

// NewModule creates a bridge using the real WebSocket transport.
func NewModule(log *zap.Logger, client *mqttserver.Client, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tr := transport.New(log.With(zap.String("component", "transport")), transport.Options{})
	return newModule(log, client, tr, cfg)
}

func newModule(log *zap.Logger, client mqttClient, tr ports.Transport, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("kodi bridge node_id is required")
	}
	if cfg.TopicBase == "" {
		cfg.TopicBase = bus.BaseTopic
	}
	if cfg.Remote.Endpoint.Host == "" && cfg.Discover == nil {
		return nil, errors.New("kodi bridge needs a kodi host or discovery")
	}
	return &Module{
		log:    log.With(zap.String("node_id", cfg.NodeID)),
		client: client,
		tr:     tr,
		config: cfg,
		dirty:  make(chan struct{}, 1),
	}, nil
}

// Run connects to Kodi and serves commands until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	opts := m.config.Remote
	if opts.Endpoint.Host == "" {
		ep, err := m.discover(ctx)
		if err != nil {
			return err
		}
		opts.Endpoint = ep
	}
	if m.config.Name == "" {
		m.config.Name = opts.Endpoint.Host
	}

	m.remote = remote.New(m.log, m.tr, opts)
	defer m.remote.Close()
	unsubscribe := m.remote.OnChange(m.markDirty)
	defer unsubscribe()

	m.log.Info("starting kodi bridge",
		zap.String("endpoint", opts.Endpoint.String()),
		zap.String("topic_base", m.config.TopicBase),
	)

	cmdTopic := bus.TopicCommands(m.config.TopicBase, m.config.NodeID)
	handler := func(_ paho.Client, msg paho.Message) { m.handleMessage(ctx, msg.Payload()) }
	if err := m.client.Subscribe(cmdTopic, 1, handler); err != nil {
		return fmt.Errorf("subscribe cmd: %w", err)
	}
	defer m.client.Unsubscribe(cmdTopic)

	if err := m.publishPresence(true); err != nil {
		m.log.Warn("failed to publish presence", zap.Error(err))
	}
	defer func() {
		if err := m.publishPresence(false); err != nil {
			m.log.Warn("failed to publish offline presence", zap.Error(err))
		}
	}()

	if err := m.remote.Connect(ctx); err != nil {
		m.log.Warn("initial kodi connect failed", zap.Error(err))
	}
	m.markDirty()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.dirty:
			if err := m.publishState(); err != nil {
				m.log.Warn("failed to publish state", zap.Error(err))
			}
		case alert := <-m.remote.Machine.Alerts():
			m.log.Warn("kodi unavailable",
				zap.String("endpoint", alert.Endpoint.String()),
				zap.Duration("retry_in", alert.RetryIn),
				zap.Error(alert.Err),
			)
		}
	}
}

func (m *Module) discover(ctx context.Context) (kodi.Endpoint, error) {
	hosts, err := m.config.Discover(ctx)
	if err != nil {
		return kodi.Endpoint{}, fmt.Errorf("discover kodi: %w", err)
	}
	if len(hosts) == 0 {
		return kodi.Endpoint{}, errors.New("discover kodi: no hosts answered")
	}
	ep := hosts[0].Endpoint
	ep.Username = m.config.Remote.Endpoint.Username
	ep.Password = m.config.Remote.Endpoint.Password
	m.log.Info("discovered kodi", zap.String("name", hosts[0].Name), zap.String("endpoint", ep.String()), zap.Int("answers", len(hosts)))
	return ep, nil
}

func (m *Module) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

func (m *Module) handleMessage(ctx context.Context, payload []byte) {
	var cmd bus.CommandEnvelope
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log.Debug("invalid command payload", zap.Error(err))
		return
	}
	if err := bus.ValidateCommandEnvelope(cmd); err != nil {
		m.publishReply(cmd.ReplyTo, errorReply(cmd, bus.CodeInvalid, err.Error()))
		return
	}

	reply := m.dispatch(ctx, cmd)
	m.log.Debug("command handled", zap.String("cmd_type", cmd.Type), zap.String("from", cmd.From), zap.Bool("ok", reply.OK))
	m.publishReply(cmd.ReplyTo, reply)
}

func (m *Module) dispatch(ctx context.Context, cmd bus.CommandEnvelope) bus.ReplyEnvelope {
	switch cmd.Type {
	case bus.CmdStateGet:
		return m.stateReply(cmd)
	case bus.CmdSessionRetry:
		return sessionReply(cmd, m.remote.Machine.Retry(ctx))
	case bus.CmdSessionSleep:
		m.remote.Machine.Sleep()
		return ackReply(cmd)
	case bus.CmdSessionWake:
		return sessionReply(cmd, m.remote.Machine.Wake(ctx))
	}

	if !bus.KnownCommand(cmd.Type) {
		return errorReply(cmd, bus.CodeUnsupported, "unsupported command "+cmd.Type)
	}
	if m.remote.Machine.State() != session.Connected {
		return errorReply(cmd, bus.CodeUnavailable, kodi.ErrNotConnected.Error())
	}
	if err := m.control(cmd); err != nil {
		return errorReply(cmd, bus.CodeInvalid, err.Error())
	}
	return ackReply(cmd)
}

// control maps a command onto a facade call.
func (m *Module) control(cmd bus.CommandEnvelope) error {
	r := m.remote
	switch cmd.Type {
	case bus.CmdPlaybackToggle:
		r.Player.PlayPause()
	case bus.CmdPlaybackStop:
		r.Player.Stop()
	case bus.CmdPlaybackNext:
		r.Player.Next()
	case bus.CmdPlaybackPrev:
		r.Player.Previous()
	case bus.CmdPlaybackSeek:
		var body bus.SeekBody
		if err := decodeBody(cmd, &body); err != nil {
			return err
		}
		r.Player.Seek(body.Percentage)
	case bus.CmdPlaybackShuffle, bus.CmdPlaybackPartymode, bus.CmdVolumeMute:
		var body bus.SwitchBody
		if err := decodeBody(cmd, &body); err != nil {
			return err
		}
		mode, err := bus.ParseSwitch(body.Mode)
		if err != nil {
			return err
		}
		switch cmd.Type {
		case bus.CmdPlaybackShuffle:
			r.Player.SetShuffle(mode)
		case bus.CmdPlaybackPartymode:
			r.Player.SetPartymode(mode)
		default:
			if mode == kodi.SwitchToggle {
				r.Host.ToggleMute()
			} else {
				r.Host.SetMute(mode == kodi.SwitchOn)
			}
		}
	case bus.CmdPlaybackRepeat:
		var body bus.RepeatBody
		if err := decodeBody(cmd, &body); err != nil {
			return err
		}
		mode, err := kodi.ParseRepeatMode(body.Mode)
		if err != nil {
			return err
		}
		r.Player.SetRepeat(mode)
	case bus.CmdVolumeSet:
		var body bus.VolumeSetBody
		if err := decodeBody(cmd, &body); err != nil {
			return err
		}
		switch {
		case body.Step == "up" || body.Step == "down":
			r.Host.StepVolume(body.Step == "up")
		case body.Step != "":
			return fmt.Errorf("step must be up or down")
		case body.Volume != nil:
			r.Host.SetVolume(*body.Volume)
		default:
			return errors.New("volume or step required")
		}
	case bus.CmdQueueClear:
		r.Queue.Clear()
	case bus.CmdQueueAdd:
		var body bus.QueueAddBody
		if err := decodeBody(cmd, &body); err != nil {
			return err
		}
		switch {
		case body.SongID > 0:
			r.Queue.AddSong(body.SongID)
		case body.File != "":
			r.Queue.AddFile(body.File)
		default:
			return errors.New("songId or file required")
		}
	case bus.CmdQueueRemove, bus.CmdQueuePlay:
		var body bus.QueuePositionBody
		if err := decodeBody(cmd, &body); err != nil {
			return err
		}
		if body.Position < 0 {
			return errors.New("position must not be negative")
		}
		if cmd.Type == bus.CmdQueueRemove {
			r.Queue.Remove(body.Position)
		} else {
			r.Player.PlayPosition(body.Position)
		}
	case bus.CmdQueueSwap:
		var body bus.QueueSwapBody
		if err := decodeBody(cmd, &body); err != nil {
			return err
		}
		r.Queue.Swap(body.From, body.To)
	case bus.CmdLibraryScan:
		r.Library.Scan()
	default:
		return fmt.Errorf("unsupported command %s", cmd.Type)
	}
	return nil
}

func decodeBody(cmd bus.CommandEnvelope, out any) error {
	if err := json.Unmarshal(cmd.Body, out); err != nil {
		return fmt.Errorf("invalid %s body: %w", cmd.Type, err)
	}
	return nil
}

// State builds the retained state document from the current snapshots.
func (m *Module) State() bus.BridgeState {
	status := m.remote.Status()
	state := bus.BridgeState{
		Session: bus.SessionState{
			State:    status.Session.State.String(),
			Endpoint: status.Session.Endpoint,
			Pending:  status.Session.Pending,
		},
		Host:         status.Host,
		Item:         status.Item,
		Playback:     status.Playback,
		Queue:        status.Queue,
		LibrarySongs: status.LibrarySongs,
		Scanning:     status.Scanning,
		Navigation: bus.NavigationState{
			Selected: string(status.Navigation.Selected),
		},
		TS: time.Now().Unix(),
	}
	if !status.Session.LastActivity.IsZero() {
		state.Session.LastActivity = status.Session.LastActivity.Unix()
	}
	for _, section := range status.Navigation.Sections {
		state.Navigation.Sections = append(state.Navigation.Sections, string(section))
	}
	return state
}

func (m *Module) publishState() error {
	payload, err := json.Marshal(m.State())
	if err != nil {
		return err
	}
	return m.client.Publish(bus.TopicState(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

// PresencePayload is the presence document for nodeID, also used as the MQTT will.
func PresencePayload(nodeID, name, endpoint string, online bool) ([]byte, error) {
	presence := bus.Presence{
		NodeID:   nodeID,
		Kind:     bus.NodeKind,
		Name:     name,
		Endpoint: endpoint,
		Online:   online,
		TS:       time.Now().Unix(),
	}
	if online {
		presence.Commands = bus.CommandTypes
	}
	return json.Marshal(presence)
}

func (m *Module) publishPresence(online bool) error {
	payload, err := PresencePayload(m.config.NodeID, m.config.Name, m.remote.Machine.Endpoint().String(), online)
	if err != nil {
		return err
	}
	return m.client.Publish(bus.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

func (m *Module) stateReply(cmd bus.CommandEnvelope) bus.ReplyEnvelope {
	body, err := json.Marshal(m.State())
	if err != nil {
		return errorReply(cmd, bus.CodeInvalid, err.Error())
	}
	reply := ackReply(cmd)
	reply.Body = body
	return reply
}

func (m *Module) publishReply(replyTo string, reply bus.ReplyEnvelope) {
	if replyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := m.client.Publish(replyTo, 1, false, payload); err != nil {
		m.log.Debug("failed to publish reply", zap.String("reply_to", replyTo), zap.Error(err))
	}
}

func ackReply(cmd bus.CommandEnvelope) bus.ReplyEnvelope {
	return bus.ReplyEnvelope{ID: cmd.ID, Type: "ack", OK: true, TS: time.Now().Unix()}
}

func errorReply(cmd bus.CommandEnvelope, code, message string) bus.ReplyEnvelope {
	return bus.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   time.Now().Unix(),
		Err:  &bus.ReplyError{Code: code, Message: message},
	}
}

func sessionReply(cmd bus.CommandEnvelope, err error) bus.ReplyEnvelope {
	if err == nil {
		return ackReply(cmd)
	}
	var rpcErr *kodi.RPCError
	if errors.As(err, &rpcErr) {
		return errorReply(cmd, bus.CodeKodi, err.Error())
	}
	return errorReply(cmd, bus.CodeUnavailable, err.Error())
}
