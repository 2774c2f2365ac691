package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Validation errors.
var (
	ErrMissingConfig       = errors.New("missing config")
	ErrInvalidConfig       = errors.New("config must be a script path or a structured config")
	ErrMissingScript       = errors.New("missing script")
	ErrScriptNotString     = errors.New("script is not a string")
	ErrScriptNotFound      = errors.New("script not found")
	ErrScriptIsDir         = errors.New("script is a directory")
	ErrScriptNotExecutable = errors.New("script is not executable")
	ErrInvalidField        = errors.New("invalid config field")
	ErrInvalidRestartDelay = errors.New("invalid restart delay")
	ErrUnsupportedFormat   = errors.New("unsupported config format")
)

// ValidationError wraps a validation error with context.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// New normalizes a bare script path, a Config, a *Config or a loosely typed
// map into a validated LaunchSpec.
func New(source any) (*LaunchSpec, error) {
	var cfg Config

	switch src := source.(type) {
	case nil:
		return nil, &ValidationError{Field: "config", Message: "missing", Err: ErrMissingConfig}
	case string:
		cfg.Script = src
	case Config:
		cfg = src
	case *Config:
		if src == nil {
			return nil, &ValidationError{Field: "config", Message: "missing", Err: ErrMissingConfig}
		}
		cfg = *src
	case map[string]any:
		c, err := FromMap(src)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		return nil, &ValidationError{
			Field:   "config",
			Value:   fmt.Sprintf("%T", source),
			Message: "must be a script path or a structured config",
			Err:     ErrInvalidConfig,
		}
	}

	return cfg.Validate()
}

// Validate checks the config and produces a LaunchSpec.
func (c Config) Validate() (*LaunchSpec, error) {
	if c.Script == "" {
		return nil, &ValidationError{Field: "script", Message: "is required", Err: ErrMissingScript}
	}

	script, err := filepath.Abs(c.Script)
	if err != nil {
		return nil, &ValidationError{Field: "script", Value: c.Script, Message: err.Error(), Err: ErrScriptNotFound}
	}

	info, err := os.Stat(script)
	if err != nil {
		return nil, &ValidationError{
			Field:   "script",
			Value:   c.Script,
			Message: "couldn't find script",
			Err:     ErrScriptNotFound,
		}
	}
	if info.IsDir() {
		return nil, &ValidationError{Field: "script", Value: c.Script, Message: "is a directory", Err: ErrScriptIsDir}
	}
	if len(c.Interpreter) == 0 && info.Mode().Perm()&0111 == 0 {
		return nil, &ValidationError{
			Field:   "script",
			Value:   c.Script,
			Message: "is not executable and no interpreter is configured",
			Err:     ErrScriptNotExecutable,
		}
	}

	delay, err := ParseRestartDelay(c.RestartDelay)
	if err != nil {
		return nil, err
	}

	dir := c.Cwd
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
	}

	env := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		env[k] = v
	}

	return &LaunchSpec{
		Script:       script,
		Args:         append([]string(nil), c.Args...),
		Dir:          dir,
		Env:          env,
		Interpreter:  append([]string(nil), c.Interpreter...),
		RestartDelay: delay,
		Done:         c.Done,
	}, nil
}

// ParseRestartDelay parses a restart delay; empty means DefaultRestartDelay.
func ParseRestartDelay(s string) (time.Duration, error) {
	if s == "" {
		return DefaultRestartDelay, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, &ValidationError{
			Field:   "restart_delay",
			Value:   s,
			Message: "must be a positive duration",
			Err:     ErrInvalidRestartDelay,
		}
	}
	return d, nil
}
