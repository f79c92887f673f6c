package service

import "errors"

var (
	// ErrInvalidDomain is returned before any cache or network access when the
	// company domain cannot be normalised.
	ErrInvalidDomain = errors.New("invalid company domain")
	// ErrInvalidJobTitle is returned when the job title is blank or oversized.
	ErrInvalidJobTitle = errors.New("invalid job title")
)
