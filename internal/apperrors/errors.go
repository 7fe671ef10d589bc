package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and the HTTP layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAuthorization
	KindState
	KindValidation
	KindExternalService
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindExternalService:
		return "external_service"
	case KindConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(entity string, id any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %v not found", entity, id)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

func State(format string, args ...any) error {
	return &Error{Kind: KindState, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// External wraps a payment processor (or other remote) failure.
func External(op string, err error) error {
	return &Error{Kind: KindExternalService, Msg: op, Err: err}
}

// Consistency marks a local write that failed after an external side effect
// already happened. These must be reconciled, never dropped.
func Consistency(op string, err error) error {
	return &Error{Kind: KindConsistency, Msg: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }
func IsState(err error) bool         { return KindOf(err) == KindState }
func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsExternal(err error) bool      { return KindOf(err) == KindExternalService }
func IsConsistency(err error) bool   { return KindOf(err) == KindConsistency }
