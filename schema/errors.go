package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a connection config failed validation.
	ErrInvalidConfig = errors.New("invalid connection config")
	// ErrDisconnected indicates the connection is closed and accepts no commands.
	ErrDisconnected = errors.New("disconnected")
	// ErrAlreadyExists indicates a live actor is already registered for the session.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrSessionNotFound indicates no actor is registered for the session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInboxFull indicates the actor inbox is at capacity.
	ErrInboxFull = errors.New("actor inbox full")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrNotTerminal indicates the tab does not host a terminal session.
	ErrNotTerminal = errors.New("tab is not a terminal")
	// ErrInvalidSize indicates a resize request with non-positive dimensions.
	ErrInvalidSize = errors.New("invalid terminal size")
)

// ErrorKind classifies connection failures.
type ErrorKind int

const (
	// KindAuth covers rejected credentials and unusable key material.
	KindAuth ErrorKind = iota + 1
	// KindNetwork covers connect failures and mid-session drops.
	KindNetwork
	// KindProtocol covers failed channel negotiation.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ConnError is a classified connection failure.
type ConnError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ConnError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthError wraps err as an authentication failure.
func AuthError(op string, err error) error {
	return &ConnError{Kind: KindAuth, Op: op, Err: err}
}

// NetworkError wraps err as a network failure.
func NetworkError(op string, err error) error {
	return &ConnError{Kind: KindNetwork, Op: op, Err: err}
}

// ProtocolError wraps err as a negotiation failure.
func ProtocolError(op string, err error) error {
	return &ConnError{Kind: KindProtocol, Op: op, Err: err}
}

// KindOf returns the classification of err, or 0 when err is not a ConnError.
func KindOf(err error) ErrorKind {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsNetwork reports whether err is a network failure.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }

// IsProtocol reports whether err is a negotiation failure.
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }
