package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSource is wrapped by LoadError when no loader is registered under a name
	ErrUnknownSource = errors.New("unknown source")

	// ErrDuplicateSource is returned when a name is registered twice
	ErrDuplicateSource = errors.New("source already registered")
)

// LoadError reports that a plugin could not be obtained
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load plugin: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ExecutionError reports that a loaded plugin failed while fetching
type ExecutionError struct {
	Source string
	Err    error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a plugin panic
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
