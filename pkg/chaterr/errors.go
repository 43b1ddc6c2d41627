// Package chaterr defines the error taxonomy shared by the chat pipeline.
//
// Every failure the pipeline surfaces is an *Error carrying a Kind. Callers
// match on kinds with errors.Is against the exported sentinels:
//
//	if errors.Is(err, chaterr.ErrBusy) {
//	    // a generation is already running for this conversation
//	}
//
// Validation errors also match ErrConfiguration, since an out of range
// parameter is a configuration problem that must be fixed before dispatch.
package chaterr

import (
	"errors"
	"fmt"
)

// Kind categorizes pipeline errors for handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindValidation
	KindAvailability
	KindTransport
	KindDecode
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindAvailability:
		return "availability"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Retryable reports whether an error of this kind may succeed when the same
// request is issued again later. Nothing is retried automatically.
func (k Kind) Retryable() bool {
	return k == KindTransport || k == KindDecode || k == KindBusy
}

// Error is a categorized pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String() + " error"
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. Sentinels carry no cause, so
// errors.Is(err, ErrTransport) holds for every transport error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error) //nolint:errorlint
	if !ok {
		return false
	}
	if t.Op != "" || t.Err != nil {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindConfiguration && e.Kind == KindValidation
}

// Sentinel errors for easy checking.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAvailability  = &Error{Kind: KindAvailability}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrDecode        = &Error{Kind: KindDecode}
	ErrBusy          = &Error{Kind: KindBusy}
)

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Configuration reports an unresolvable provider, model or credential.
func Configuration(op, format string, args ...any) *Error {
	return newf(KindConfiguration, op, format, args...)
}

// Validation reports a parameter outside its allowed range.
func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

// Availability reports that the resolver refused a provider/model pair.
func Availability(op, format string, args ...any) *Error {
	return newf(KindAvailability, op, format, args...)
}

// Transport wraps a network or HTTP failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Decode wraps a fatal stream decoding failure.
func Decode(op string, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// Busy reports a single-flight violation for a conversation.
func Busy(op, conversationID string) *Error {
	return newf(KindBusy, op, "conversation %s already has a generation in flight", conversationID)
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Message returns the user facing text for err: the innermost cause for
// categorized errors, the plain error text otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	return err.Error()
}
