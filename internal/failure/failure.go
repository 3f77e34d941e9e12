// Package failure defines the closed set of error kinds used by the poller.
//
// Every error that crosses a component boundary is matched by exactly one of
// the Err* sentinels via errors.Is. Only ErrConfiguration is fatal; every other
// kind is contained inside a single poll tick.
package failure

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrNetwork           = errors.New("network error")
	ErrServer            = errors.New("server error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrMissingField      = errors.New("missing field")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrDelivery          = errors.New("delivery error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrConfiguration, "configuration"},
	{ErrNetwork, "network"},
	{ErrServer, "server"},
	{ErrMalformedResponse, "malformed_response"},
	{ErrMissingField, "missing_field"},
	{ErrUnknownStatus, "unknown_status"},
	{ErrDelivery, "delivery"},
}

// Error carries a kind, a human readable detail and an optional cause.
type Error struct {
	Kind   error
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Cause != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Detail, e.Cause)
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	case e.Cause != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprint(e.Kind)
	}
}

// Is matches the kind sentinel; the cause chain is reachable through Unwrap.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Cause }

// New returns an error of the given kind.
//
// Example:
//
//	return failure.New(failure.ErrMissingField, "homeworks")
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind that keeps err as its cause.
// A nil err yields nil.
func Wrap(kind error, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	detail := ""
	if format != "" {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Detail: detail, Cause: err}
}

// KindOf returns a short stable name for the kind of err ("" for nil,
// "unknown" for errors outside the taxonomy).
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool { return errors.Is(err, ErrConfiguration) }
