package actions

import (
	"errors"
	"fmt"
)

// Kind classifies an action failure for retry decisions and run history.
type Kind string

const (
	KindInvalidActionConfig   Kind = "InvalidActionConfig"
	KindUnknownActionType     Kind = "UnknownActionType"
	KindCredentialsMissing    Kind = "CredentialsMissing"
	KindActionExecutionFailed Kind = "ActionExecutionFailed"
	KindTimeout               Kind = "Timeout"
	KindRetrievalUnavailable  Kind = "RetrievalUnavailable"
)

// Error is the failure type every action returns. Deterministic kinds
// (invalid config, unknown type, missing credentials) are never retried;
// execution failures are retried only when Transient is set.
type Error struct {
	Kind      Kind
	Transient bool
	// Status and Body carry the upstream HTTP status and a body excerpt
	// for execution failures.
	Status int
	Body   string
	err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewError wraps err under an explicit kind. The result is
// non-retryable; use NewExecutionError or NewTimeoutError for transient
// failures.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, err: err}
}

// NewConfigError reports a missing or malformed config field.
func NewConfigError(err error) *Error {
	return &Error{Kind: KindInvalidActionConfig, err: err}
}

// NewUnknownTypeError reports an unregistered action type.
func NewUnknownTypeError(stepType string) *Error {
	return &Error{Kind: KindUnknownActionType, err: fmt.Errorf("no action registered for step type %q", stepType)}
}

// NewCredentialsError reports a tenant without the integration secret an
// action needs. The tenant must configure the integration; retrying is
// pointless.
func NewCredentialsError(what string) *Error {
	return &Error{Kind: KindCredentialsMissing, err: fmt.Errorf("tenant has no %s configured", what)}
}

// NewExecutionError wraps an upstream failure. 429 and 5xx responses are
// transient; 4xx responses are deterministic.
func NewExecutionError(status int, body string, err error) *Error {
	const maxBodyExcerpt = 300
	if len(body) > maxBodyExcerpt {
		body = body[:maxBodyExcerpt] + "..."
	}
	if err == nil {
		err = fmt.Errorf("upstream returned %d: %s", status, body)
	}
	return &Error{
		Kind:      KindActionExecutionFailed,
		Transient: status == 429 || status >= 500 || status == 0,
		Status:    status,
		Body:      body,
		err:       err,
	}
}

// NewTimeoutError reports an exceeded call deadline.
func NewTimeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Transient: true, err: err}
}

// Retryable reports whether the queue should redeliver after this error.
func Retryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Transient
	}
	// Unclassified errors (panics surfaced as errors, store failures)
	// default to retryable so a crash doesn't permanently drop a job.
	return true
}

// KindOf extracts the classification, defaulting to execution failure.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindActionExecutionFailed
}
