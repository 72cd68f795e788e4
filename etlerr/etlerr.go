// Package etlerr defines the error kinds shared by every stage of a pipeline.
//
// Errors are plain wrapped errors; callers test the kind with errors.Is.
package etlerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a malformed pipeline or expression definition.
	ErrConfiguration = errors.New("configuration error")
	// ErrSchema marks a column that is missing or would collide.
	ErrSchema = errors.New("schema error")
	// ErrEvaluation marks an expression that cannot be evaluated against a row.
	ErrEvaluation = errors.New("evaluation error")
	// ErrType marks an operation applied to operands of the wrong type.
	ErrType = errors.New("type error")
	// ErrLifecycle marks a pipeline used outside its allowed lifecycle.
	ErrLifecycle = errors.New("lifecycle error")
)

// Configf returns an ErrConfiguration with a formatted message.
func Configf(format string, a ...any) error {
	return wrap(ErrConfiguration, format, a...)
}

// Schemaf returns an ErrSchema with a formatted message.
func Schemaf(format string, a ...any) error {
	return wrap(ErrSchema, format, a...)
}

// Evalf returns an ErrEvaluation with a formatted message.
func Evalf(format string, a ...any) error {
	return wrap(ErrEvaluation, format, a...)
}

// Typef returns an ErrType with a formatted message.
func Typef(format string, a ...any) error {
	return wrap(ErrType, format, a...)
}

func wrap(kind error, format string, a ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, a...))
}

// StageError carries the position of a failing stage inside a pipeline run.
type StageError struct {
	Index  int    // zero-based stage position
	Stage  string // stage kind, e.g. "filter"
	Label  string // optional user label
	Column string // column involved, when known
	Err    error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %d (%s", e.Index, e.Stage)
	if e.Label != "" {
		msg += " " + e.Label
	}
	msg += ")"
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	return msg + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// ColumnError attaches a column name to err so a StageError can report it.
type ColumnError struct {
	Column string
	Err    error
}

func (e *ColumnError) Error() string { return fmt.Sprintf("%q: %v", e.Column, e.Err) }

func (e *ColumnError) Unwrap() error { return e.Err }

// WithColumn wraps err with the column it concerns. A nil err stays nil.
func WithColumn(column string, err error) error {
	if err == nil {
		return nil
	}
	return &ColumnError{Column: column, Err: err}
}

// ColumnOf returns the outermost column recorded on err, or "".
func ColumnOf(err error) string {
	var ce *ColumnError
	if errors.As(err, &ce) {
		return ce.Column
	}
	return ""
}
