package relay

import "errors"

var (
	// ErrEmptyInput is returned when no user turn with content was supplied.
	ErrEmptyInput = errors.New("no user message found")
	// ErrBackend is returned when the backend answers with a non-success status.
	ErrBackend = errors.New("backend API error")
	// ErrNoResponseText is returned when a JSON answer has none of the known text fields.
	ErrNoResponseText = errors.New("no response text received from backend")
)
