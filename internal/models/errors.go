package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a queue item or stored document does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrAlreadyReviewed is returned when a review targets an item that is no longer pending.
	ErrAlreadyReviewed = errors.New("queue item already reviewed")
	// ErrDependencyUnavailable marks failures of the reputation or classifier services.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrConfiguration marks a tier that cannot run because its configuration is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidReviewAction is returned when a review asks for a status other than approved or rejected.
	ErrInvalidReviewAction = errors.New("review action must be approved or rejected")
)

// ValidationError lists every problem found in a configuration document.
type ValidationError struct {
	Violations []string `json:"violations"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid moderation config: %s", strings.Join(e.Violations, "; "))
}

// add records a violation using fmt-style formatting.
func (e *ValidationError) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// errOrNil returns e when at least one violation was recorded.
func (e *ValidationError) errOrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}
