// Package mqtt is the controller side of the krd bus: it sends commands to
// bridged Kodi nodes and reads their retained presence and state.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mikey-austin/kodi_remote/internal/adapters/mqttserver"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
)

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
}

// Client talks to krd nodes over MQTT.
type Client struct {
	client     paho.Client
	clientID   string
	replyTopic string
	topicBase  string
	timeout    time.Duration

	mu            sync.Mutex
	replyHandlers map[string]chan bus.ReplyEnvelope
}

// NewClient creates and connects an MQTT client.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = bus.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = "kr-" + uuid.NewString()
	}

	c := &Client{
		clientID:      opts.ClientID,
		replyTopic:    bus.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:     opts.TopicBase,
		timeout:       opts.Timeout,
		replyHandlers: map[string]chan bus.ReplyEnvelope{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(c.replyTopic, 1, c.handleReply)
		token.Wait()
	})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := mqttserver.BuildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return c, nil
}

// ReplyTopic returns the topic used for replies.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

// PublishCommand publishes a command and waits for its reply.
// Missing envelope fields are filled in before sending.
func (c *Client) PublishCommand(ctx context.Context, nodeID string, cmd bus.CommandEnvelope) (bus.ReplyEnvelope, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.TS == 0 {
		cmd.TS = time.Now().Unix()
	}
	if cmd.From == "" {
		cmd.From = c.clientID
	}
	if cmd.ReplyTo == "" {
		cmd.ReplyTo = c.replyTopic
	}

	req, err := json.Marshal(cmd)
	if err != nil {
		return bus.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}

	replyCh := make(chan bus.ReplyEnvelope, 1)
	c.mu.Lock()
	c.replyHandlers[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.replyHandlers, cmd.ID)
		c.mu.Unlock()
	}()

	topic := bus.TopicCommands(c.topicBase, nodeID)
	if token := c.client.Publish(topic, 1, false, req); token.Wait() && token.Error() != nil {
		return bus.ReplyEnvelope{}, token.Error()
	}

	select {
	case <-ctx.Done():
		return bus.ReplyEnvelope{}, ctx.Err()
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(c.timeout):
		return bus.ReplyEnvelope{}, errors.New("timeout waiting for reply")
	}
}

// ListPresence collects retained presence messages, sorted by node id.
func (c *Client) ListPresence(ctx context.Context) ([]bus.Presence, error) {
	collect := make(map[string]bus.Presence)
	var lock sync.Mutex

	handler := func(_ paho.Client, msg paho.Message) {
		var presence bus.Presence
		if err := json.Unmarshal(msg.Payload(), &presence); err != nil || presence.NodeID == "" {
			return
		}
		lock.Lock()
		collect[presence.NodeID] = presence
		lock.Unlock()
	}

	topic := fmt.Sprintf("%s/node/+/presence", c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	wait := time.NewTimer(250 * time.Millisecond)
	select {
	case <-ctx.Done():
		wait.Stop()
	case <-wait.C:
	}

	lock.Lock()
	defer lock.Unlock()
	out := make([]bus.Presence, 0, len(collect))
	for _, presence := range collect {
		out = append(out, presence)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// GetState returns the retained state of a node.
func (c *Client) GetState(ctx context.Context, nodeID string) (bus.BridgeState, error) {
	stateCh := make(chan bus.BridgeState, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		var state bus.BridgeState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}

	topic := bus.TopicState(c.topicBase, nodeID)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return bus.BridgeState{}, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	select {
	case <-ctx.Done():
		return bus.BridgeState{}, ctx.Err()
	case state := <-stateCh:
		return state, nil
	case <-time.After(c.timeout):
		return bus.BridgeState{}, errors.New("timeout waiting for state")
	}
}

// WatchState streams state updates for a node until ctx is done.
func (c *Client) WatchState(ctx context.Context, nodeID string) (<-chan bus.BridgeState, <-chan error) {
	stateCh := make(chan bus.BridgeState, 8)
	errCh := make(chan error, 1)

	var lock sync.Mutex
	closed := false
	handler := func(_ paho.Client, msg paho.Message) {
		var state bus.BridgeState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		lock.Lock()
		defer lock.Unlock()
		if closed {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}

	topic := bus.TopicState(c.topicBase, nodeID)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		errCh <- token.Error()
		close(errCh)
		close(stateCh)
		return stateCh, errCh
	}

	go func() {
		<-ctx.Done()
		token := c.client.Unsubscribe(topic)
		token.Wait()
		lock.Lock()
		closed = true
		close(stateCh)
		close(errCh)
		lock.Unlock()
	}()

	return stateCh, errCh
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply bus.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.replyHandlers[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- reply:
	default:
	}
}
