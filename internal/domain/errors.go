package domain

import "errors"

var (
	// ErrValidation marks rejected operator input; nothing was written.
	ErrValidation = errors.New("validation error")
	// ErrStore marks a persistence call that was rejected.
	ErrStore    = errors.New("store error")
	ErrNotFound = errors.New("not found")
)
