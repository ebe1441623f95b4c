package fsrs

import "errors"

// Errors returned by the scheduler. Callers match them with errors.Is.
var (
	ErrInvalidRating  = errors.New("fsrs: invalid rating")
	ErrInvalidCard    = errors.New("fsrs: invalid card")
	ErrInvalidParams  = errors.New("fsrs: invalid parameters")
	ErrCardIDMismatch = errors.New("fsrs: review log belongs to another card")
)
