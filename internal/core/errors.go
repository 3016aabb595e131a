package core

import (
	"errors"
	"fmt"
)

var (
	ErrTransient       = errors.New("transient external failure")
	ErrValidation      = errors.New("validation failure")
	ErrBudgetExhausted = errors.New("budget exhausted")
	ErrPersistence     = errors.New("persistence failure")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BudgetExhaustedError reports that mandatory prompt content does not fit the context window.
type BudgetExhaustedError struct {
	Required  int
	Available int
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("mandatory content needs %d tokens, only %d available", e.Required, e.Available)
}

func (e *BudgetExhaustedError) Unwrap() error { return ErrBudgetExhausted }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
