package main

import (
	"errors"
	"fmt"

	"github.com/mikey-austin/kodi_remote/pkg/bus"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitRuntime     = 1
	ExitUsage       = 2
	ExitUnavailable = 3
	ExitKodi        = 4
)

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// classify picks the exit code for a session or call error.
func classify(msg string, err error) error {
	var rpcErr *kodi.RPCError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rpcErr):
		return WrapError(ExitKodi, msg, err)
	case errors.Is(err, kodi.ErrConnection), errors.Is(err, kodi.ErrNotConnected), errors.Is(err, kodi.ErrTimeout):
		return WrapError(ExitUnavailable, msg, err)
	default:
		return WrapError(ExitRuntime, msg, err)
	}
}

// errorForReply maps a bridge reply error to an exit code.
func errorForReply(replyErr *bus.ReplyError) *CLIError {
	switch replyErr.Code {
	case bus.CodeInvalid, bus.CodeUnsupported:
		return &CLIError{Code: ExitUsage, Msg: replyErr.Message}
	case bus.CodeUnavailable:
		return &CLIError{Code: ExitUnavailable, Msg: replyErr.Message}
	case bus.CodeKodi:
		return &CLIError{Code: ExitKodi, Msg: replyErr.Message}
	default:
		return &CLIError{Code: ExitRuntime, Msg: replyErr.Message}
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitRuntime
}
