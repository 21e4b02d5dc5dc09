package kodi

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection reports a socket that could not be established or maintained.
	ErrConnection = errors.New("connection error")
	// ErrNotConnected reports a send or call attempted without an open channel.
	ErrNotConnected = errors.New("not connected")
	// ErrMalformedPayload reports an inbound frame that matches no known envelope.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrInvalidData reports a matched response whose result does not fit the expected schema.
	ErrInvalidData = errors.New("invalid data")
	// ErrTimeout reports a call that received no response before its deadline.
	ErrTimeout = errors.New("response timeout")
	// ErrSuperseded reports a pending call displaced by a newer call with the same id.
	ErrSuperseded = errors.New("superseded by newer call")
)

// RPCError is an error object returned by the server in place of a result.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Method  string `json:"-"`
}

func (e *RPCError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("kodi error: %s: %s (code %d)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("kodi error: %s (code %d)", e.Message, e.Code)
}
