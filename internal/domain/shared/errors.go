// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds. Domain sentinels below carry one of these as their Kind,
// so callers can match either the concrete sentinel or the whole class with
// errors.Is().
var (
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidState    = errors.New("invalid state")
	ErrOptimisticLock  = errors.New("optimistic lock failure")
)

// DomainError ties an error to the aggregate and operation it came from.
type DomainError struct {
	Domain  string // "streak", "reward", "challenge"
	Op      string // operation that failed, e.g. "Recompute", "Award"
	Kind    error  // base kind for errors.Is() class matching
	Message string
	Err     error // underlying cause, optional
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the Kind class and the underlying cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// Streak domain errors
var (
	ErrStreakNotFound     = NewDomainError("streak", "Find", ErrNotFound, "streak state not found")
	ErrNoDebtToPay        = NewDomainError("streak", "ApplyPayment", ErrInvalidState, "no unpaid missed days")
	ErrInvalidPayment     = NewDomainError("streak", "ApplyPayment", ErrValueOutOfRange, "payment units must be positive")
	ErrDebtBeyondRecovery = NewDomainError("streak", "ApplyPayment", ErrInvalidState, "debt exceeds the recoverable limit")
)

// Reward domain errors
var (
	ErrTransactionNotFound = NewDomainError("reward", "Find", ErrNotFound, "xp transaction not found")
	ErrNothingToReverse    = NewDomainError("reward", "Reverse", ErrNotFound, "no transaction recorded for the action")
	ErrUnknownSource       = NewDomainError("reward", "Award", ErrInvalidInput, "unknown xp source kind")
)

// Challenge domain errors
var (
	ErrChallengeNotFound  = NewDomainError("challenge", "Find", ErrNotFound, "challenge progress not found")
	ErrNoActiveChallenge  = NewDomainError("challenge", "Route", ErrNotFound, "no active challenge for the period")
	ErrInvalidRequirement = NewDomainError("challenge", "Validate", ErrInvalidInput, "unknown requirement key")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the error is a concurrency conflict that can be
// resolved by re-reading the aggregate and retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOptimisticLock)
}
