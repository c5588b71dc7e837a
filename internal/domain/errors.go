package domain

import (
	"errors"
	"fmt"
)

type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// ValidationError reports which field broke which rule. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field string
	Rule  string
}

func NewValidationError(field, rule string) *ValidationError {
	return &ValidationError{Field: field, Rule: rule}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Rule)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

var (
	ErrNotFound                = errors.New("poll not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrExpired                 = errors.New("poll has expired")
	ErrInvalidOption           = errors.New("invalid option index")
	ErrInvalidReactionType     = errors.New("invalid reaction type")
	ErrEmptyComment            = errors.New("comment text is required")
	ErrDuplicateLink           = errors.New("unique link already in use")
	ErrLinkGenerationExhausted = errors.New("could not allocate a unique link")
	ErrConflict                = errors.New("concurrent update retries exhausted")
	ErrStorageFailure          = errors.New("storage failure")
)

// IsDomainError reports whether err is one of the typed outcomes callers are
// allowed to see. Everything else is a storage failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrExpired,
		ErrInvalidOption,
		ErrInvalidReactionType,
		ErrEmptyComment,
		ErrLinkGenerationExhausted,
		ErrStorageFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
