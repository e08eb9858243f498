// Package dnserror defines the error taxonomy shared by the resolver engine.
package dnserror

import (
	"errors"
	"fmt"
)

// Kind classifies a resolution failure.
type Kind string

const (
	// ResolverFailed means the underlying resolver machinery was unusable.
	ResolverFailed Kind = "RESOLVER_FAILED"
	// QueryFailed covers validation, encoding and protocol-level rejections.
	QueryFailed Kind = "QUERY_FAILED"
	// NoRecordsFound means a well-formed response carried no TXT data.
	NoRecordsFound Kind = "NO_RECORDS_FOUND"
	// Timeout means no response arrived within the attempt's deadline.
	Timeout Kind = "TIMEOUT"
	// Cancelled means the resolver was torn down while the query was pending.
	Cancelled Kind = "CANCELLED"
)

// Error is a tagged resolution error with an optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two Errors by kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error without a cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf builds an Error with a formatted detail string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error wrapping a cause. The cause is reachable through
// errors.Unwrap for callers that need the transport-level failure.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the Kind from any error in err's chain, or QueryFailed when
// err carries no taxonomy (a raw transport error escaping unclassified).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return QueryFailed
}
