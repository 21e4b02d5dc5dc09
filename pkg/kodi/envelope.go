package kodi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC protocol version string.
const Version = "2.0"

// Request is the outbound JSON-RPC envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response is a reply to a request, matched by ID.
type Response struct {
	ID     string
	Result json.RawMessage
	Error  *RPCError
}

// Notification is an unsolicited server push.
type Notification struct {
	Method string           `json:"method"`
	Params json.RawMessage  `json:"params,omitempty"`
	Kind   NotificationKind `json:"-"`
}

// NotificationData is the common params shape of Kodi notifications.
type NotificationData struct {
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

// MessageKind discriminates decoded frames.
type MessageKind int

const (
	MessageResponse MessageKind = iota + 1
	MessageNotification
)

// Message is a decoded inbound frame: exactly one of Response or Notification is set.
type Message struct {
	Kind         MessageKind
	Response     *Response
	Notification *Notification
}

// Encode builds the wire envelope for params with the given request id.
func Encode(params Params, id string) ([]byte, error) {
	if params == nil {
		return nil, errors.New("params required")
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return json.Marshal(Request{
		JSONRPC: Version,
		Method:  params.Method(),
		Params:  payload,
		ID:      id,
	})
}

// DecodeRequest parses an outbound envelope, e.g. one echoed by a test server.
func DecodeRequest(frame []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: request without method", ErrMalformedPayload)
	}
	return req, nil
}

type inbound struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Decode classifies an inbound frame as a response or a notification.
func Decode(frame []byte) (Message, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a json object", ErrMalformedPayload)
	}
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	hasID := len(msg.ID) > 0 && string(msg.ID) != "null"
	if msg.Method != "" && !hasID {
		return Message{
			Kind: MessageNotification,
			Notification: &Notification{
				Method: msg.Method,
				Params: msg.Params,
				Kind:   KindOf(msg.Method),
			},
		}, nil
	}

	if msg.Method == "" && (msg.Result != nil || msg.Error != nil) {
		id, err := decodeID(msg.ID)
		if err != nil {
			return Message{}, err
		}
		return Message{
			Kind:     MessageResponse,
			Response: &Response{ID: id, Result: msg.Result, Error: msg.Error},
		}, nil
	}

	return Message{}, fmt.Errorf("%w: unrecognized envelope", ErrMalformedPayload)
}

// decodeID accepts string and numeric ids; a missing or null id yields "".
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: unsupported id %s", ErrMalformedPayload, raw)
}

// Defaulter fills documented defaults for fields the server omitted.
type Defaulter interface {
	ApplyDefaults()
}

// Validator rejects results that decoded but violate the schema.
type Validator interface {
	Validate() error
}

// DecodeResult unmarshals a result payload into out, then applies defaults and validation.
func DecodeResult(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: empty result", ErrInvalidData)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if d, ok := out.(Defaulter); ok {
		d.ApplyDefaults()
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}
	return nil
}
