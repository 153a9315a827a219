// Package apierr classifies tool-handler errors into the five kinds
// spec.md §7 describes, so the dispatcher can report them distinctly
// without every handler hand-rolling the mapping.
package apierr

import "fmt"

// Kind is one of the five error kinds from spec.md §7.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindInvariant     Kind = "invariant"
	KindExternal      Kind = "external"
	KindInternal      Kind = "internal"
)

// Error wraps an underlying error with a Kind so callers can branch on
// retry/degradation semantics (spec.md §7).
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Authorization reports a missing/invalid token or wrong-role access.
func Authorization(format string, args ...any) *Error { return newf(KindAuthorization, format, args...) }

// Validation reports an argument schema or enum violation.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Invariant reports a would-be invariant violation (duplicate id, double
// assignment, cycle, lock contention), naming the blocking entity.
func Invariant(format string, args ...any) *Error { return newf(KindInvariant, format, args...) }

// External wraps a failure in an external collaborator (multiplexer,
// embedding provider, vector extension).
func External(err error, format string, args ...any) *Error {
	return &Error{Kind: KindExternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Internal wraps an unexpected error, surfaced by the dispatcher as isError.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Msg: "internal error", Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if asError(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
