package models

import (
	"errors"
	"fmt"
)

// UnknownItemID names bundle items and rules that carry no id
const UnknownItemID = "unknown"

var (
	// ErrTransportNotConfigured is returned for unmatched requests when no
	// inner transport is available to fall through to
	ErrTransportNotConfigured = errors.New("no inner transport is configured for unmatched requests")

	// ErrUnsupportedContentFormat is wrapped by ConfigError for unknown contentFormat values
	ErrUnsupportedContentFormat = errors.New("unsupported content format")
)

// ConfigError reports an invalid registration or bundle item
type ConfigError struct {
	ItemID string
	Field  string
	Err    error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	id := e.ItemID
	if id == "" {
		id = UnknownItemID
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration for item %q: %s: %v", id, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid configuration for item %q: %v", id, e.Err)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UnmatchedRequestError is returned when no rule matches a request and the
// registry is configured to fail on missing registrations
type UnmatchedRequestError struct {
	Method string
	URL    string
}

// Error implements the error interface
func (e *UnmatchedRequestError) Error() string {
	return fmt.Sprintf("no HTTP request interception is registered for %s %s", e.Method, e.URL)
}
