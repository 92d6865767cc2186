// Package task owns named task definitions and their durable storage.
// A task binds a name to a shell command template; the store is the
// only component that mutates definitions.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no task with the given name exists.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidDefinition is returned when a definition fails validation.
	ErrInvalidDefinition = errors.New("invalid task definition")
)

// Definition is a named, persisted shell command
type Definition struct {
	Name        string    `json:"name"`
	Command     string    `json:"command"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// maxNameLength bounds task names; they double as file names.
const maxNameLength = 128

// ValidateName checks that a task name is usable as a unique store key.
// Names become file names, so path separators and dot-prefixes are
// rejected outright.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidDefinition)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDefinition, maxNameLength)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: name must not start with '.'", ErrInvalidDefinition)
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: name must not contain path separators", ErrInvalidDefinition)
	}
	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return fmt.Errorf("%w: name must not contain whitespace", ErrInvalidDefinition)
		}
	}
	return nil
}

// Validate checks the definition invariants: non-empty unique-key name
// and a non-empty command.
func (d *Definition) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("%w: command must not be empty", ErrInvalidDefinition)
	}
	return nil
}
