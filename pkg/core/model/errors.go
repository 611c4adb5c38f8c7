package model

import (
	"fmt"
	"strings"
)

// ValidationError is returned for malformed input before any side effect
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NotFoundError is returned when a referenced entity does not exist
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// ConflictError lists the members (or names) that block the operation
type ConflictError struct {
	Reason string
	Names  []string
}

func (e *ConflictError) Error() string {
	if len(e.Names) == 0 {
		return fmt.Sprintf("conflict: %s", e.Reason)
	}
	return fmt.Sprintf("conflict: %s: %s", e.Reason, strings.Join(e.Names, ", "))
}

// InvalidTransitionError is returned when a confirmation state change is not allowed
type InvalidTransitionError struct {
	From   ConfirmationStatus
	To     ConfirmationStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}
