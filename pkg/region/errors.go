package region

import "errors"

// Outcomes of region requests. None of them stop the region; callers match
// them with errors.Is.
var (
	ErrAlreadyExists = errors.New("object already exists")
	ErrNotFound      = errors.New("object not found")
	ErrInvalidID     = errors.New("invalid object id")
	ErrTerminated    = errors.New("region terminated")
)

// invariantError marks a fault that leaves the region state untrustworthy.
// Returning it from a request terminates the region.
type invariantError struct {
	msg string
}

func (e *invariantError) Error() string {
	return "region invariant violated: " + e.msg
}
