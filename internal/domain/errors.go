package domain

import "errors"

// Errors returned before a relay starts. Callers wrap them with context and
// the HTTP layer maps them to status codes with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrNotPending   = errors.New("response message not pending")
	ErrPolicyDenied = errors.New("request denied by policy")
)

// ErrPersistence marks a store write that reported failure.
var ErrPersistence = errors.New("persistence failed")
