// Package kilnerr provides the structured error types used across imagekiln:
// category-based classification for CLI reporting, the execution-failure
// wrapper produced by build steps, and the unwrapping rules the step runner
// applies before surfacing a build failure.
package kilnerr

import (
	"errors"
	"fmt"
)

// Category classifies a build error for reporting and exit-code mapping.
type Category string

const (
	// User-facing configuration and input errors
	CategoryConfig Category = "config"
	CategoryAuth   Category = "auth"

	// External system integration errors
	CategoryRegistry Category = "registry"
	CategoryDaemon   Category = "daemon"

	// Build and processing errors
	CategoryCache      Category = "cache"
	CategoryStep       Category = "step"
	CategoryFileSystem Category = "filesystem"

	// Runtime and infrastructure errors
	CategoryInternal Category = "internal"
)

// BuildError is a structured error with a category and optional cause.
type BuildError struct {
	Category Category
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// New creates a new BuildError.
func New(category Category, message string) *BuildError {
	return &BuildError{Category: category, Message: message}
}

// Newf creates a new BuildError with a formatted message.
func Newf(category Category, format string, args ...any) *BuildError {
	return &BuildError{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new BuildError that wraps an existing error.
func Wrap(err error, category Category, message string) *BuildError {
	return &BuildError{Category: category, Message: message, Cause: err}
}

// GetCategory extracts the category from an error, or returns
// CategoryInternal if no BuildError is found in the chain.
func GetCategory(err error) Category {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Category
	}
	return CategoryInternal
}

// IsCategory checks whether an error chain contains a BuildError of the
// given category.
func IsCategory(err error, category Category) bool {
	var be *BuildError
	return errors.As(err, &be) && be.Category == category
}
