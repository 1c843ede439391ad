package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the connected drive client
var (
	// Transport errors
	ErrTransport = errors.New("transport error")

	// Authentication errors
	ErrAuthStage      = errors.New("authentication stage failed")
	ErrMissingCaptcha = errors.New("captcha token required for first login")
	ErrThrottled      = errors.New("identity provider throttled the request")
	ErrNotLoggedIn    = errors.New("session not logged in")

	// Caller errors
	ErrUnsupportedService = errors.New("unsupported service")
	ErrInvalidArgument    = errors.New("invalid argument")

	// Data errors
	ErrDecode     = errors.New("decode error")
	ErrHTTPStatus = errors.New("unexpected http status")

	// Store errors
	ErrStore = errors.New("token store error")
)

// TransportError is a connection level failure reaching the vendor.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// AuthStageError is returned when a stage of the login or refresh handshake
// answered with an unexpected status or without an expected field.
type AuthStageError struct {
	Stage      string
	StatusCode int
	Reason     string
	Err        error
}

func (e *AuthStageError) Error() string {
	msg := "auth stage " + e.Stage
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthStageError) Unwrap() error { return e.Err }

func (e *AuthStageError) Is(target error) bool {
	if target == ErrAuthStage {
		return true
	}
	return target == ErrThrottled && IsThrottleStatus(e.StatusCode)
}

// HTTPStatusError is a non-2xx answer to a data request.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: server http status %d", e.Method, e.URL, e.StatusCode)
}

func (e *HTTPStatusError) Is(target error) bool { return target == ErrHTTPStatus }

// DecodeError reports an empty or malformed response body.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// IsThrottleStatus reports whether the identity provider signalled quota throttling.
func IsThrottleStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusTooManyRequests
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
