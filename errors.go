package sessionx

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents session error categories.
type ErrorCode string

const (
	ErrCodeInvalidToken       ErrorCode = "invalid_token"
	ErrCodeValidation         ErrorCode = "validation"
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrCodeRateLimited        ErrorCode = "rate_limited"
	ErrCodeServer             ErrorCode = "server_error"
	ErrCodeNetwork            ErrorCode = "network_error"
	ErrCodeNoRefreshToken     ErrorCode = "no_refresh_token"
	ErrCodeRefreshFailed      ErrorCode = "refresh_failed"
	ErrCodeSessionEnded       ErrorCode = "session_ended"
	ErrCodeInternal           ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidToken:       "Invalid session token",
	ErrCodeValidation:         "Please check the information you entered",
	ErrCodeInvalidCredentials: "Incorrect email or password",
	ErrCodeRateLimited:        "Too many attempts, please try again later",
	ErrCodeServer:             "The service is temporarily unavailable, please try again",
	ErrCodeNetwork:            "Unable to reach the server, check your connection",
	ErrCodeNoRefreshToken:     "No refresh token available",
	ErrCodeRefreshFailed:      "Your session has expired, please sign in again",
	ErrCodeSessionEnded:       "The session ended while the request was in progress",
	ErrCodeInternal:           "Internal error",
}

// Sentinel values for errors.Is checks. Matching is done by code.
var (
	ErrInvalidToken   = &Error{Code: ErrCodeInvalidToken}
	ErrNoRefreshToken = &Error{Code: ErrCodeNoRefreshToken}
	ErrRefreshFailed  = &Error{Code: ErrCodeRefreshFailed}
	ErrSessionEnded   = &Error{Code: ErrCodeSessionEnded}
	ErrRateLimited    = &Error{Code: ErrCodeRateLimited}
)

// Error wraps session errors with a stable code and a user-facing message.
// Status is the HTTP status of the remote response when one was received.
type Error struct {
	Code       ErrorCode
	Message    string
	Status     int
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, err error) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" when
// err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the HTTP status recorded anywhere in err's chain, or 0.
func StatusOf(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.Status != 0 {
			return e.Status
		}
		err = e.Err
	}
	return 0
}

// IsCredentialError reports whether err was caused by input the user can fix:
// rejected credentials or a validation failure.
func IsCredentialError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidCredentials, ErrCodeValidation:
		return true
	}
	return false
}

// classifyStatus maps a non-2xx identity API response to a typed error.
func classifyStatus(status int, retryAfter time.Duration, detail error) *Error {
	var e *Error
	switch {
	case status == http.StatusBadRequest:
		e = newError(ErrCodeValidation, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = newError(ErrCodeInvalidCredentials, detail)
	case status == http.StatusTooManyRequests:
		e = newError(ErrCodeRateLimited, detail)
		e.RetryAfter = retryAfter
		if retryAfter > 0 {
			e.Message = fmt.Sprintf("Too many attempts, please try again in %s", roundWait(retryAfter))
		}
	default:
		e = newError(ErrCodeServer, detail)
	}
	e.Status = status
	return e
}

func roundWait(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}
