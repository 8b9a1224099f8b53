// Package apperror defines the closed set of failure classes an evaluation run
// can end with. Every fatal error that reaches the orchestrator is expected to
// be one of these variants (or wrap one); anything else is reported as an
// internal failure.
package apperror

import (
	"errors"
	"fmt"
	"time"
)

type Class string

const (
	ClassInput       Class = "input"
	ClassTransient   Class = "transient"
	ClassMalformed   Class = "malformed_response"
	ClassPersistence Class = "persistence"
)

// Error is implemented only by the variants in this package.
type Error interface {
	error
	Class() Class
	Retryable() bool
	sealed()
}

type InputReason string

const (
	ReasonNotFound     InputReason = "not_found"
	ReasonTooLarge     InputReason = "too_large"
	ReasonTooManyItems InputReason = "too_many_items"
	ReasonInaccessible InputReason = "inaccessible"
	ReasonInvalid      InputReason = "invalid"
)

// InputError is a problem with the thing being evaluated. Never retried.
type InputError struct {
	Reason InputReason
	Detail string
	Limit  int64
	Actual int64
}

func (e *InputError) Error() string {
	switch e.Reason {
	case ReasonTooLarge:
		if e.Actual > 0 {
			return fmt.Sprintf("%s: size %d bytes exceeds size limit of %d bytes", e.Detail, e.Actual, e.Limit)
		}
		return fmt.Sprintf("%s: exceeds size limit of %d bytes", e.Detail, e.Limit)
	case ReasonTooManyItems:
		return fmt.Sprintf("%s: item count %d exceeds limit of %d", e.Detail, e.Actual, e.Limit)
	default:
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
}

func (e *InputError) Class() Class    { return ClassInput }
func (e *InputError) Retryable() bool { return false }
func (e *InputError) sealed()         {}

type TransientReason string

const (
	ReasonRateLimited TransientReason = "rate_limited"
	ReasonTimeout     TransientReason = "timeout"
	ReasonUnavailable TransientReason = "unavailable"
)

// TransientError is a collaborator failure that may succeed if retried later.
type TransientError struct {
	Reason     TransientReason
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	msg := string(e.Reason)
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Class() Class    { return ClassTransient }
func (e *TransientError) Retryable() bool { return true }
func (e *TransientError) sealed()         {}

// MalformedResponseError means a collaborator answered but the answer is unusable.
type MalformedResponseError struct {
	Collaborator string
	Err          error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Collaborator, e.Err)
}

func (e *MalformedResponseError) Unwrap() error   { return e.Err }
func (e *MalformedResponseError) Class() Class    { return ClassMalformed }
func (e *MalformedResponseError) Retryable() bool { return false }
func (e *MalformedResponseError) sealed()         {}

// PersistenceError is a failed read or write against the source of truth.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error   { return e.Err }
func (e *PersistenceError) Class() Class    { return ClassPersistence }
func (e *PersistenceError) Retryable() bool { return true }
func (e *PersistenceError) sealed()         {}

func NotFound(detail string) error {
	return &InputError{Reason: ReasonNotFound, Detail: detail}
}

func Inaccessible(detail string) error {
	return &InputError{Reason: ReasonInaccessible, Detail: detail}
}

func Invalid(detail string) error {
	return &InputError{Reason: ReasonInvalid, Detail: detail}
}

func TooLarge(detail string, limit, actual int64) error {
	return &InputError{Reason: ReasonTooLarge, Detail: detail, Limit: limit, Actual: actual}
}

func TooManyItems(detail string, limit, actual int64) error {
	return &InputError{Reason: ReasonTooManyItems, Detail: detail, Limit: limit, Actual: actual}
}

func RateLimited(retryAfter time.Duration, err error) error {
	return &TransientError{Reason: ReasonRateLimited, RetryAfter: retryAfter, Err: err}
}

func Timeout(err error) error {
	return &TransientError{Reason: ReasonTimeout, Err: err}
}

func Unavailable(err error) error {
	return &TransientError{Reason: ReasonUnavailable, Err: err}
}

func Malformed(collaborator string, err error) error {
	return &MalformedResponseError{Collaborator: collaborator, Err: err}
}

func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// As finds the first taxonomy variant in err's chain.
func As(err error) (Error, bool) {
	var input *InputError
	if errors.As(err, &input) {
		return input, true
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient, true
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return malformed, true
	}
	var persistence *PersistenceError
	if errors.As(err, &persistence) {
		return persistence, true
	}
	return nil, false
}

// IsRetryable reports whether the caller may retry the failed run.
func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable()
	}
	return false
}

// RetryAfter returns the retry hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.RetryAfter
	}
	return 0
}

func IsNotFound(err error) bool {
	var input *InputError
	return errors.As(err, &input) && input.Reason == ReasonNotFound
}
