package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound is matched by errors returned when no configuration file
	// exists for the resolved environment
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrConfigParse is matched by errors returned when a configuration file
	// cannot be parsed
	ErrConfigParse = errors.New("configuration could not be parsed")

	// ErrInvalidEnv is returned for an environment outside ValidEnvs
	ErrInvalidEnv = errors.New("invalid environment")
)

// NotFoundError reports a missing configuration file
type NotFoundError struct {
	Env  string
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("config file not found for env %q: %s", e.Env, e.Path)
}

// Is matches ErrConfigNotFound
func (*NotFoundError) Is(target error) bool {
	return target == ErrConfigNotFound
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ParseError reports a configuration file that is not valid YAML or has
// values of the wrong type
type ParseError struct {
	Path string
	// Source is set when the error is local to one source block
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("failed to parse %s: source %q: %v", e.Path, e.Source, e.Err)
	}
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

// Is matches ErrConfigParse
func (*ParseError) Is(target error) bool {
	return target == ErrConfigParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
