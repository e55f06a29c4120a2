// Package errs defines the error taxonomy shared by the engine, the record
// store and the boundary adapters. Callers match kinds with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Root kinds.
var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrAlreadyExists = errors.New("already exists")
	ErrStore         = errors.New("record store failure")
)

// Specific kinds; each wraps a root kind.
var (
	ErrRuleNotFound  = fmt.Errorf("rule %w", ErrNotFound)
	ErrEventNotFound = fmt.Errorf("event %w", ErrNotFound)
	ErrGroupNotFound = fmt.Errorf("group %w", ErrNotFound)
	ErrUserNotFound  = fmt.Errorf("user %w", ErrNotFound)
	ErrSelfVeto      = fmt.Errorf("%w: cannot veto own event", ErrValidation)
)

// Invalid builds a validation error carrying a reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// Store wraps a persistence failure for op.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// Code maps an error to a stable, machine readable code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRuleNotFound):
		return "rule_not_found"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrGroupNotFound):
		return "group_not_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSelfVeto):
		return "self_veto"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrStore):
		return "store_failure"
	default:
		return "internal_error"
	}
}
