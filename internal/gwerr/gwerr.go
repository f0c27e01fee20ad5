// Package gwerr defines the closed error-envelope taxonomy that every
// core component returns instead of raising. The Tool Dispatch Surface
// is the only layer that stringifies an Error into the host's protocol.
package gwerr

import "fmt"

// Code is one of a fixed, closed set of machine-readable error codes.
type Code string

const (
	Validation             Code = "validation"
	NotFound               Code = "not-found"
	Unauthorized           Code = "unauthorized"
	Forbidden              Code = "forbidden"
	RateLimited            Code = "rate-limited"
	CanvasAPI              Code = "canvas-api"
	Network                Code = "network"
	Timeout                Code = "timeout"
	Anonymization          Code = "anonymization"
	Cache                  Code = "cache"
	InvalidParameter       Code = "invalid-parameter"
	Duplicate              Code = "duplicate"
	InsufficientPermission Code = "insufficient-permissions"
)

// Error is the structured envelope every core operation returns on
// failure. It is never stringified inside a core component; only the
// Tool Dispatch Surface renders it for the host.
type Error struct {
	Code       Code
	Message    string
	Detail     map[string]any
	Suggestion string
	StatusCode int   // HTTP status, if this wraps an API response
	Wrapped    error // underlying cause, for errors.Unwrap
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New builds an Error with no detail or suggestion.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Wrapped: cause}
}

// WithSuggestion returns a copy of e with a remediation hint attached.
func (e *Error) WithSuggestion(s string) *Error {
	c := *e
	c.Suggestion = s
	return &c
}

// WithDetail returns a copy of e with a detail field attached.
func (e *Error) WithDetail(key string, value any) *Error {
	c := *e
	if c.Detail == nil {
		c.Detail = make(map[string]any, 1)
	} else {
		d := make(map[string]any, len(c.Detail)+1)
		for k, v := range c.Detail {
			d[k] = v
		}
		c.Detail = d
	}
	c.Detail[key] = value
	return &c
}

// Render formats e for the host as "Error [<code>]: <message>" with
// optional Suggestion:/Details: sections. This is the ONLY place in
// the codebase that stringifies an Error for a caller.
func Render(err error) string {
	gerr, ok := err.(*Error)
	if !ok {
		return fmt.Sprintf("Error [%s]: %s", CanvasAPI, err.Error())
	}

	out := fmt.Sprintf("Error [%s]: %s", gerr.Code, gerr.Message)
	if gerr.Suggestion != "" {
		out += "\nSuggestion: " + gerr.Suggestion
	}
	if len(gerr.Detail) > 0 {
		out += "\nDetails:"
		for k, v := range gerr.Detail {
			out += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	return out
}

// FromHTTPStatus maps an HTTP status code to the closest taxonomy code.
func FromHTTPStatus(status int) Code {
	switch {
	case status == 401:
		return Unauthorized
	case status == 403:
		return Forbidden
	case status == 404:
		return NotFound
	case status == 429:
		return RateLimited
	case status >= 500:
		return CanvasAPI
	default:
		return CanvasAPI
	}
}
