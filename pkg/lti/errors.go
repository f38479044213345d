// pkg/lti/errors.go
package lti

import (
	"errors"
	"fmt"
)

/*
Error taxonomy for the LTI trust engine.

Every rejection falls into one of five kinds:

  - Validation:    malformed, missing, or mismatched protocol fields
  - Replay:        duplicate nonce or reused login state
  - Trust:         unknown consumer key, signature mismatch, JWKS key not found
  - Upstream:      a platform HTTP call failed (grade post, token exchange, registration)
  - Configuration: the embedding application is misconfigured (missing callback,
                   unsupported signature method)

Callers match on kind with errors.Is against the sentinel for that kind,
e.g. errors.Is(err, lti.ErrReplay). Trust and Replay failures are the
expected adversarial/misconfiguration events; the engine logs them on the
dedicated lti logger and never silently swallows them.
*/

var (
	ErrValidation    = errors.New("lti: validation error")
	ErrReplay        = errors.New("lti: replay detected")
	ErrTrust         = errors.New("lti: trust error")
	ErrUpstream      = errors.New("lti: upstream error")
	ErrConfiguration = errors.New("lti: configuration error")
)

// Error is a typed protocol error carrying its kind sentinel and a
// human-readable message.
type Error struct {
	Kind error // one of the sentinels above
	Msg  string

	// Body holds the upstream response body for Upstream errors, when the
	// platform returned one. Empty otherwise.
	Body string

	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return e.Msg + ": " + e.wrapped.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

// Cause returns the underlying error, if any (distinct from the kind).
func (e *Error) Cause() error { return e.wrapped }

func newErr(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return newErr(ErrValidation, format, args...)
}

// Replayf builds a ReplayError.
func Replayf(format string, args ...any) error {
	return newErr(ErrReplay, format, args...)
}

// Trustf builds a TrustError.
func Trustf(format string, args ...any) error {
	return newErr(ErrTrust, format, args...)
}

// Upstreamf builds an UpstreamError. body may be empty.
func Upstreamf(body, format string, args ...any) error {
	e := newErr(ErrUpstream, format, args...)
	e.Body = body
	return e
}

// Configf builds a ConfigurationError.
func Configf(format string, args ...any) error {
	return newErr(ErrConfiguration, format, args...)
}

// WrapUpstream wraps a transport error as an UpstreamError.
func WrapUpstream(err error, format string, args ...any) error {
	e := newErr(ErrUpstream, format, args...)
	e.wrapped = err
	return e
}

// UpstreamBody extracts the platform response body from an UpstreamError,
// if the error carries one.
func UpstreamBody(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Body
	}
	return ""
}
