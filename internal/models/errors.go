package models

import (
	"errors"
)

// Common validation errors for models.
var (
	// ErrPrincipalRequired indicates a required principal field is empty.
	ErrPrincipalRequired = errors.New("principal_id is required")

	// ErrFilenameRequired indicates a required filename field is empty.
	ErrFilenameRequired = errors.New("filename is required")

	// ErrInvalidTimeRange indicates end time is not after start time.
	ErrInvalidTimeRange = errors.New("end must be after start")
)
