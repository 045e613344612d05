// Package gwerrors defines the typed error taxonomy used at every boundary
// of the gateway. Nothing at a component boundary returns a bare
// errors.New/fmt.Errorf string; callers that need to branch on failure kind
// use Is/As against a Kind instead of substring matching.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the ten error categories from the gateway's error
// handling design. Kinds are dotted strings so they read naturally in logs
// and JSON-RPC error data payloads.
type Kind string

const (
	ConfigInvalid     Kind = "config.invalid"
	ConfigValidation  Kind = "config.validation"
	DiscoveryEmpty    Kind = "discovery.empty"
	RoutingNotFound   Kind = "routing.not-found"
	RoutingDisabled   Kind = "routing.disabled"
	TransportConnect  Kind = "transport.connect"
	TransportExec     Kind = "transport.exec"
	ProtocolFraming   Kind = "protocol.framing"
	ProtocolMethod    Kind = "protocol.method"
	ProtocolParams    Kind = "protocol.params"
)

// Error is the concrete typed error shape. Msg is human-readable; Cause, if
// present, is wrapped and reachable via errors.Unwrap/errors.Is.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error carrying an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err is a *Error of the given Kind, anywhere in its
// unwrap chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// JSONRPCCode maps a Kind to the upstream JSON-RPC error code the Gateway
// Protocol Surface uses when translating a typed error into a wire response.
func (k Kind) JSONRPCCode() int {
	switch k {
	case ProtocolFraming:
		return -32600
	case ProtocolMethod:
		return -32601
	case ProtocolParams:
		return -32602
	default:
		// config.*, discovery.*, routing.*, transport.* all surface as
		// generic internal errors at the wire boundary; callers that need
		// finer-grained handling (routing.not-found vs routing.disabled)
		// inspect the ToolResult/error payload instead of the JSON-RPC code.
		return -32603
	}
}

// JSONRPCCode is a package-level convenience for mapping an error value
// directly, falling back to -32603 when err is not a *Error.
func JSONRPCCode(err error) int {
	if kind, ok := KindOf(err); ok {
		return kind.JSONRPCCode()
	}
	return -32603
}
