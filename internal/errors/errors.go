// Package errors provides categorized, context-carrying errors for agrialert.
//
// Errors are built with a fluent builder:
//
//	err := errors.Newf("threshold must be finite").
//		Component("alerting").
//		Category(errors.CategoryValidation).
//		Context("field", "threshold").
//		Build()
//
// The package also re-exports the standard library helpers so callers can
// import a single errors package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync/atomic"
)

// ErrorCategory groups errors by how callers should react to them.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryDatabase      ErrorCategory = "database"
	CategoryNetwork       ErrorCategory = "network"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryInternal      ErrorCategory = "internal"
)

// EnhancedError wraps an underlying error with a component, category and
// free-form context.
type EnhancedError struct {
	Err       error
	component string
	category  ErrorCategory
	context   map[string]any
	reported  atomic.Bool
}

func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return string(e.category)
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() ErrorCategory { return e.category }

// GetContext returns a copy of the error context.
func (e *EnhancedError) GetContext() map[string]any {
	out := make(map[string]any, len(e.context))
	maps.Copy(out, e.context)
	return out
}

// ContextValue returns a single context value.
func (e *EnhancedError) ContextValue(key string) (any, bool) {
	v, ok := e.context[key]
	return v, ok
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryInternal}
}

// Newf starts a builder around a formatted message. %w verbs are honoured.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.category = category
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error and hands it to the reporter, if one is installed.
func (b *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
	report(ee)
	return ee
}

// CategoryOf returns the category of the first EnhancedError in err's chain,
// or CategoryInternal when there is none.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.category
	}
	return CategoryInternal
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return stderrors.As(err, &ee) && ee.category == category
}

// NewStd creates a plain error, used for package-level sentinels.
func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }
