package search

import "errors"

var (
	ErrValidation = errors.New("invalid request")
	ErrNotFound   = errors.New("video not found")
	ErrUpstream   = errors.New("upstream unavailable")
)

// ValidationError is returned before any cache or upstream access.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var (
	ErrInvalidQuery   = &ValidationError{Message: "Search query is required and must be less than 200 characters"}
	ErrInvalidPage    = &ValidationError{Message: "Page must be a positive integer not exceeding 1000"}
	ErrInvalidPerPage = &ValidationError{Message: "Per page must be between 1 and 100"}
	ErrInvalidTitle   = &ValidationError{Message: "Title is required and must be less than 200 characters"}
	ErrInvalidLimit   = &ValidationError{Message: "Limit must be between 1 and 50"}
	ErrInvalidVideoID = &ValidationError{Message: "Video ID is required, at most 50 characters of letters, digits, '_' or '-'"}
)
