package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies why a submission was rejected.
type Kind string

const (
	KindInputMalformed      Kind = "InputMalformed"
	KindValidationFailed    Kind = "ValidationFailed"
	KindCredentialInvalid   Kind = "CredentialInvalid"
	KindProviderUnreachable Kind = "ProviderUnreachable"
	KindProviderRejected    Kind = "ProviderRejected"
	KindDuplicateJob        Kind = "DuplicateJob"
	KindStoreUnavailable    Kind = "StoreUnavailable"
)

// Status maps a kind to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindInputMalformed:
		return http.StatusBadRequest
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindCredentialInvalid:
		return http.StatusUnauthorized
	case KindDuplicateJob:
		return http.StatusTooManyRequests
	case KindProviderRejected:
		return http.StatusBadGateway
	case KindProviderUnreachable, KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Step names the pipeline step that produced an error.
type Step string

const (
	StepParse    Step = "parse"
	StepValidate Step = "validate"
	StepVerify   Step = "verify"
	StepClaim    Step = "claim"
	StepDispatch Step = "dispatch"
	StepPersist  Step = "persist"
)

// FieldError is one failed rule on one request field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every failed rule, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Error is what the pipeline returns for every rejected submission.
type Error struct {
	Kind    Kind
	Step    Step
	Message string
	// Fields is set for KindValidationFailed.
	Fields []FieldError
	// Provider is the raw provider answer, when there was one.
	Provider json.RawMessage
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", e.Kind, e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Step, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int { return e.Kind.Status() }

// AsError extracts *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Malformed builds the error for a body that is not a JSON object.
func Malformed(err error) *Error {
	return &Error{Kind: KindInputMalformed, Step: StepParse, Message: "request body must be a JSON object", Err: err}
}
