// Package bus defines the MQTT protocol krd speaks for a bridged Kodi session.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the protocol.
const BaseTopic = "kr/v1"

// NodeKind is the presence kind of a bridged Kodi session.
const NodeKind = "kodi"

// Command types accepted on the command topic.
const (
	CmdPlaybackToggle    = "playback.toggle"
	CmdPlaybackStop      = "playback.stop"
	CmdPlaybackNext      = "playback.next"
	CmdPlaybackPrev      = "playback.prev"
	CmdPlaybackSeek      = "playback.seek"
	CmdPlaybackShuffle   = "playback.shuffle"
	CmdPlaybackRepeat    = "playback.repeat"
	CmdPlaybackPartymode = "playback.partymode"
	CmdVolumeSet         = "volume.set"
	CmdVolumeMute        = "volume.mute"
	CmdQueueClear        = "queue.clear"
	CmdQueueAdd          = "queue.add"
	CmdQueueRemove       = "queue.remove"
	CmdQueueSwap         = "queue.swap"
	CmdQueuePlay         = "queue.play"
	CmdLibraryScan       = "library.scan"
	CmdSessionRetry      = "session.retry"
	CmdSessionSleep      = "session.sleep"
	CmdSessionWake       = "session.wake"
	CmdStateGet          = "state.get"
)

// CommandTypes lists every accepted command type.
var CommandTypes = []string{
	CmdPlaybackToggle, CmdPlaybackStop, CmdPlaybackNext, CmdPlaybackPrev,
	CmdPlaybackSeek, CmdPlaybackShuffle, CmdPlaybackRepeat, CmdPlaybackPartymode,
	CmdVolumeSet, CmdVolumeMute,
	CmdQueueClear, CmdQueueAdd, CmdQueueRemove, CmdQueueSwap, CmdQueuePlay,
	CmdLibraryScan,
	CmdSessionRetry, CmdSessionSleep, CmdSessionWake,
	CmdStateGet,
}

// Error codes used in replies.
const (
	CodeInvalid     = "INVALID"
	CodeUnsupported = "UNSUPPORTED"
	CodeUnavailable = "UNAVAILABLE"
	CodeKodi        = "KODI_ERROR"
)

// CommandEnvelope is the controller command envelope.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Presence describes a node presence payload.
type Presence struct {
	NodeID   string   `json:"nodeId"`
	Kind     string   `json:"kind"`
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint,omitempty"`
	Online   bool     `json:"online"`
	Commands []string `json:"commands,omitempty"`
	TS       int64    `json:"ts"`
}

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}

	return CommandEnvelope{
		Type: cmdType,
		Body: payload,
	}, nil
}

// ValidateCommandEnvelope validates required fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if cmd.TS <= 0 {
		return errors.New("ts must be a positive unix timestamp")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	if len(cmd.Body) == 0 {
		return errors.New("body is required")
	}
	return nil
}

// KnownCommand reports whether cmdType is part of the protocol.
func KnownCommand(cmdType string) bool {
	for _, known := range CommandTypes {
		if known == cmdType {
			return true
		}
	}
	return false
}

// TopicPresence builds the presence topic for a node.
func TopicPresence(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/presence", topicBase, nodeID)
}

// TopicState builds the state topic for a node.
func TopicState(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/state", topicBase, nodeID)
}

// TopicCommands builds the command topic for a node.
func TopicCommands(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/cmd", topicBase, nodeID)
}

// TopicReply builds the reply topic for a controller instance.
func TopicReply(topicBase, controllerID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, controllerID)
}
