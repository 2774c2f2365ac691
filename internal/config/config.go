// Package config turns supervisor configuration into a validated LaunchSpec.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultRestartDelay is how long a restart waits for the old child to exit
// before spawning a new one anyway.
const DefaultRestartDelay = 5 * time.Second

// DefaultLogLevel is the log level used when none is configured.
const DefaultLogLevel = "info"

// Config is the structured supervisor configuration.
type Config struct {
	// Script is the file to run and monitor. Required.
	Script string `toml:"script" yaml:"script"`

	// Args are passed to the script in order.
	Args []string `toml:"args" yaml:"args"`

	// Cwd is the working directory of the child. Defaults to the
	// supervisor's working directory.
	Cwd string `toml:"cwd" yaml:"cwd"`

	// Env is merged over the inherited environment; configured values win.
	Env map[string]string `toml:"env" yaml:"env"`

	// Interpreter runs the script, e.g. ["/bin/sh"]. When empty the script
	// is executed directly and must be executable.
	Interpreter []string `toml:"interpreter" yaml:"interpreter"`

	// RestartDelay is a Go duration string (e.g. "5s").
	RestartDelay string `toml:"restart_delay" yaml:"restart_delay"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// Done is called once when the child announces a voluntary exit.
	Done func() `toml:"-" yaml:"-"`
}

// GetLogLevel returns the configured log level or the default.
func (c *Config) GetLogLevel() string {
	if c != nil && c.LogLevel != "" {
		return c.LogLevel
	}
	return DefaultLogLevel
}

// LaunchSpec is a validated, immutable description of how to start the child.
type LaunchSpec struct {
	Script       string
	Args         []string
	Dir          string
	Env          map[string]string
	Interpreter  []string
	RestartDelay time.Duration
	Done         func()
}

// Name returns the script's base name, used in log lines.
func (s *LaunchSpec) Name() string {
	return filepath.Base(s.Script)
}

// Command returns the program to execute and its arguments.
func (s *LaunchSpec) Command() (string, []string) {
	if len(s.Interpreter) == 0 {
		return s.Script, append([]string(nil), s.Args...)
	}
	args := append([]string(nil), s.Interpreter[1:]...)
	args = append(args, s.Script)
	args = append(args, s.Args...)
	return s.Interpreter[0], args
}

// Environ returns base with the configured variables applied on top.
// A configured key replaces any inherited entry with the same key.
func (s *LaunchSpec) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(s.Env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := s.Env[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, key := range s.EnvKeys() {
		out = append(out, key+"="+s.Env[key])
	}
	return out
}

// EnvKeys returns the configured environment keys in sorted order.
func (s *LaunchSpec) EnvKeys() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadFile reads a TOML or YAML config file, chosen by extension.
// Relative script and cwd entries resolve against the file's directory.
func LoadFile(path string) (Config, error) {
	raw := map[string]any{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	default:
		return Config{}, &ValidationError{
			Field:   "config",
			Value:   path,
			Message: "must be a .toml, .yaml or .yml file",
			Err:     ErrUnsupportedFormat,
		}
	}

	cfg, err := FromMap(raw)
	if err != nil {
		return Config{}, err
	}

	base := filepath.Dir(path)
	if cfg.Script != "" && !filepath.IsAbs(cfg.Script) {
		cfg.Script = filepath.Join(base, cfg.Script)
	}
	if cfg.Cwd != "" && !filepath.IsAbs(cfg.Cwd) {
		cfg.Cwd = filepath.Join(base, cfg.Cwd)
	}
	return cfg, nil
}

// FromMap converts a loosely typed config object (as decoded from TOML,
// YAML or JSON) into a Config, reporting fields of the wrong type.
func FromMap(m map[string]any) (Config, error) {
	var cfg Config
	if m == nil {
		return cfg, &ValidationError{Field: "config", Message: "missing", Err: ErrMissingConfig}
	}

	script, ok := m["script"]
	if !ok || script == nil {
		return cfg, &ValidationError{Field: "script", Message: "is required", Err: ErrMissingScript}
	}
	s, ok := script.(string)
	if !ok {
		return cfg, &ValidationError{
			Field:   "script",
			Value:   fmt.Sprint(script),
			Message: "must be a string",
			Err:     ErrScriptNotString,
		}
	}
	cfg.Script = s

	if v, ok := m["args"]; ok {
		args, err := stringList("args", v)
		if err != nil {
			return cfg, err
		}
		cfg.Args = args
	}

	if v, ok := m["cwd"]; ok {
		cwd, ok := v.(string)
		if !ok {
			return cfg, &ValidationError{Field: "cwd", Value: fmt.Sprint(v), Message: "must be a string", Err: ErrInvalidField}
		}
		cfg.Cwd = cwd
	}

	if v, ok := m["env"]; ok {
		env, ok := v.(map[string]any)
		if !ok {
			return cfg, &ValidationError{Field: "env", Message: "must be a key/value table", Err: ErrInvalidField}
		}
		cfg.Env = make(map[string]string, len(env))
		for k, val := range env {
			cfg.Env[k] = fmt.Sprint(val)
		}
	}

	if v, ok := m["interpreter"]; ok {
		if s, ok := v.(string); ok {
			cfg.Interpreter = strings.Fields(s)
		} else {
			interp, err := stringList("interpreter", v)
			if err != nil {
				return cfg, err
			}
			cfg.Interpreter = interp
		}
	}

	if v, ok := m["restart_delay"]; ok {
		switch d := v.(type) {
		case string:
			cfg.RestartDelay = d
		case int:
			cfg.RestartDelay = strconv.Itoa(d) + "ms"
		case int64:
			cfg.RestartDelay = strconv.FormatInt(d, 10) + "ms"
		default:
			return cfg, &ValidationError{
				Field:   "restart_delay",
				Value:   fmt.Sprint(v),
				Message: "must be a duration string or milliseconds",
				Err:     ErrInvalidRestartDelay,
			}
		}
	}

	if v, ok := m["log_level"]; ok {
		lvl, ok := v.(string)
		if !ok {
			return cfg, &ValidationError{Field: "log_level", Value: fmt.Sprint(v), Message: "must be a string", Err: ErrInvalidField}
		}
		cfg.LogLevel = lvl
	}

	return cfg, nil
}

func stringList(field string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &ValidationError{
					Field:   fmt.Sprintf("%s[%d]", field, i),
					Value:   fmt.Sprint(item),
					Message: "must be a string",
					Err:     ErrInvalidField,
				}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ValidationError{Field: field, Value: fmt.Sprint(v), Message: "must be a list of strings", Err: ErrInvalidField}
	}
}
