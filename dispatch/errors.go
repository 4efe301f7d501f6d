package dispatch

import "errors"

var (
	ErrSessionLocked       = errors.New("session is locked")
	ErrDenied              = errors.New("action denied")
	ErrExpired             = errors.New("approval expired before a decision arrived")
	ErrCancelled           = errors.New("invocation cancelled while awaiting approval")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrToolExecutionFailed = errors.New("tool execution failed")
)
