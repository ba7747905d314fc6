package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNoChoices is returned when a completion carries no choices.
	ErrNoChoices = errors.New("backend returned no choices")

	// ErrEmptyAddress is returned when no backend address is configured.
	ErrEmptyAddress = errors.New("backend address is empty")
)

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}
