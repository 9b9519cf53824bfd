package service

import (
	"errors"
	"fmt"
)

// ErrNoTargets is returned by Submit when the user has no registered devices.
var ErrNoTargets = errors.New("user has no registered device tokens")

// ValidationError reports a malformed submission. No state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// PermanentTargetError means the gateway rejected a token for good. The token
// is removed from the registry.
type PermanentTargetError struct {
	Token string
	Err   error
}

func (e *PermanentTargetError) Error() string {
	return fmt.Sprintf("token %s permanently invalid: %v", e.Token, e.Err)
}

func (e *PermanentTargetError) Unwrap() error { return e.Err }

// TransientSendError is any other per-token send failure, timeouts included.
// It is counted and logged, never retried.
type TransientSendError struct {
	Token string
	Err   error
}

func (e *TransientSendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Token, e.Err)
}

func (e *TransientSendError) Unwrap() error { return e.Err }

// UnexpectedProcessingError is a fault outside the normal send failure path.
// The request is marked failed and its remaining tokens are abandoned.
type UnexpectedProcessingError struct {
	RequestID string
	Token     string
	Cause     any
}

func (e *UnexpectedProcessingError) Error() string {
	return fmt.Sprintf("unexpected fault while sending to %s: %v", e.Token, e.Cause)
}

func (e *UnexpectedProcessingError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}
