package service

import (
	"fmt"
	"strings"
)

const (
	msgMissingFields = "Missing required fields"
	msgInvalidFields = "Invalid feedback fields"
)

// ValidationError reports a payload that is incomplete or malformed.
// Fields maps the JSON field name to the failed rule.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for f, rule := range e.Fields {
		parts = append(parts, f+"="+rule)
	}
	return e.Message + ": " + strings.Join(parts, ", ")
}

// CooldownError rejects a post made within the cooldown window.
type CooldownError struct {
	DaysRemaining int
	AvailableAt   int64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("You can post again in %d days", e.DaysRemaining)
}

// StorageError wraps a failed key-value operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
