// Package provider talks to the messaging provider that owns bot credentials.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrCredentialInvalid: the provider answered ok=false to a credential check.
	ErrCredentialInvalid = errors.New("provider: credential invalid")
	// ErrRejected: the provider answered ok=false to a send.
	ErrRejected = errors.New("provider: request rejected")
	// ErrUnreachable: transport failure, timeout, or a body that is not a provider envelope.
	ErrUnreachable = errors.New("provider: unreachable")
)

// Identity is the bot behind a verified credential.
type Identity struct {
	ID       int64
	Username string
	Raw      json.RawMessage
}

// Result is a successful provider response to a send.
type Result struct {
	MessageID int
	Raw       json.RawMessage
}

// Client is the provider surface used by the intake pipeline.
type Client interface {
	VerifyCredential(ctx context.Context, token string) (Identity, error)
	Dispatch(ctx context.Context, token string, chatID int64, payload map[string]any) (Result, error)
}

// Error carries the provider method and, when the provider answered, its raw response.
type Error struct {
	Method      string
	Code        int
	Description string
	Raw         json.RawMessage

	kind  error
	cause error
}

// NewError builds a provider answer error. kind is one of the package sentinels.
func NewError(kind error, method string, code int, description string, raw json.RawMessage) *Error {
	return &Error{Method: method, Code: code, Description: description, Raw: raw, kind: kind}
}

func (e *Error) Error() string {
	switch {
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.kind, e.Method, e.cause)
	case e.Description != "":
		return fmt.Sprintf("%s: %s: %s (%d)", e.kind, e.Method, e.Description, e.Code)
	default:
		return fmt.Sprintf("%s: %s", e.kind, e.Method)
	}
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// RawResponse returns the provider body attached to err, if any.
func RawResponse(err error) json.RawMessage {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Raw
	}
	return nil
}
