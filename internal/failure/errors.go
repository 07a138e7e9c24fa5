// internal/failure/errors.go
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies an acquisition failure.
// Every kind feeds the same backoff counter; only RateLimited changes the multiplier.
type Kind int

const (
	KindNone Kind = iota
	KindConnection
	KindAuth
	KindTimeout
	KindProtocol
	KindRateLimited
	KindStale
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindRateLimited:
		return "rate_limited"
	case KindStale:
		return "stale"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ---- taxonomy ----

// ConnectionError means the endpoint was unreachable or refused the connection.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means the vendor rejected the credentials.
// Reason must never carry the credentials themselves.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Reason
}

// FetchKind narrows a FetchError.
type FetchKind int

const (
	FetchTimeout FetchKind = iota
	FetchProtocol
	FetchRateLimited
)

func (k FetchKind) String() string {
	switch k {
	case FetchTimeout:
		return "timeout"
	case FetchProtocol:
		return "protocol"
	case FetchRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// FetchError is a failed data fetch over an otherwise working transport.
type FetchError struct {
	Kind FetchKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StaleDataError means the broker is reachable but the device has gone silent.
type StaleDataError struct {
	Age    time.Duration
	Window time.Duration
}

func (e *StaleDataError) Error() string {
	if e.Age <= 0 {
		return fmt.Sprintf("stale data: no message received (window %s)", e.Window)
	}
	return fmt.Sprintf("stale data: newest message is %s old (window %s)", e.Age.Round(time.Second), e.Window)
}

// DecodeError names the canonical field that could not be decoded.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
}

// ---- constructors ----

func Timeout(err error) error     { return &FetchError{Kind: FetchTimeout, Err: err} }
func Protocol(err error) error    { return &FetchError{Kind: FetchProtocol, Err: err} }
func RateLimited(err error) error { return &FetchError{Kind: FetchRateLimited, Err: err} }

func Decode(field, format string, args ...any) error {
	return &DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ---- classification ----

// KindOf classifies err. Unknown errors count as protocol failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		ce *ConnectionError
		ae *AuthError
		fe *FetchError
		se *StaleDataError
		de *DecodeError
	)

	switch {
	case errors.As(err, &ae):
		return KindAuth
	case errors.As(err, &de):
		return KindDecode
	case errors.As(err, &se):
		return KindStale
	case errors.As(err, &fe):
		switch fe.Kind {
		case FetchTimeout:
			return KindTimeout
		case FetchRateLimited:
			return KindRateLimited
		default:
			return KindProtocol
		}
	case errors.As(err, &ce):
		return KindConnection
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	return KindProtocol
}

// IsAuth reports whether err is a terminal credential rejection.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}
