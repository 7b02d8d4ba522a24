package ha

import (
	"errors"
	"fmt"
)

var (
	// ErrHubUnavailable means the hub could not be reached at all
	ErrHubUnavailable = errors.New("hub unavailable")

	// ErrHubRejected means the hub answered with a non-success status
	ErrHubRejected = errors.New("hub rejected request")

	// ErrNotFound means the hub has no such entity
	ErrNotFound = errors.New("entity not found")

	// ErrAuthRejected means the hub refused the access token
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrMalformedMessage means a push frame could not be decoded
	ErrMalformedMessage = errors.New("malformed message")
)

// HubError carries the hub's response for a rejected request
type HubError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HubError) Error() string {
	return fmt.Sprintf("Home Assistant API error: %s", e.Status)
}

func (e *HubError) Unwrap() error {
	return ErrHubRejected
}
