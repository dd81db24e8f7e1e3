package services

import (
	"errors"
	"fmt"

	"github.com/isdelr/safeback/internal/lock"
)

var (
	ErrLockContention      = lock.ErrHeld
	ErrProviderFailure     = errors.New("snapshot provider failed")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("workspace admin or owner role required")
	ErrInvalidConfirmation = errors.New("confirmation token is invalid or expired")
	ErrStorageFailure      = errors.New("snapshot storage failure")
	ErrInvalidInput        = errors.New("invalid input")
)

// ProviderError reports which provider failed during capture or restore.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderFailure, e.Err}
}
