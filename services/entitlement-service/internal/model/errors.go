package model

import "errors"

// Failure taxonomy shared by the registry, engine, and workflow. Callers match
// with errors.Is; messages carry the offending identifier via %w wrapping.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state transition")
)
