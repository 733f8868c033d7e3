package llm

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a caller-supplied key is rejected.
var ErrUnauthorized = errors.New("provider rejected the supplied key")

// NotOkError is returned for a non-2xx provider response.
type NotOkError struct {
	StatusCode int
	Body       string
}

func (e *NotOkError) Error() string {
	return fmt.Sprintf("LLM API error [%d]: %s", e.StatusCode, e.Body)
}

// ParseError reports a provider frame or body that could not be decoded.
type ParseError struct {
	Data string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse provider response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
