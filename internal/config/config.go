// Package config loads host configuration from a CUE file, environment
// overrides, and built-in defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCRIPTHOST_"

var validate = validator.New()

// Config is the resolved host configuration.
type Config struct {
	ScriptDir        string        `validate:"required"`
	DefaultExtension string        `validate:"required,startswith=."`
	DefaultNamespace string        `validate:"required"`
	Categories       []string      `validate:"min=1,unique,dive,required"`
	Worlds           []string      `validate:"unique,dive,required"`
	Journal          string
	TickInterval     time.Duration `validate:"gt=0"`
	InvokeTimeout    time.Duration `validate:"gte=0"`
	LogLevel         string        `validate:"oneof=debug info warn error"`
}

// Level maps LogLevel onto slog.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// file mirrors #Config. Durations stay strings until parsed.
type file struct {
	ScriptDir        string   `json:"script_dir" env:"SCRIPT_DIR"`
	DefaultExtension string   `json:"default_extension" env:"DEFAULT_EXTENSION"`
	DefaultNamespace string   `json:"default_namespace" env:"DEFAULT_NAMESPACE"`
	Categories       []string `json:"categories" env:"CATEGORIES"`
	Worlds           []string `json:"worlds" env:"WORLDS"`
	Journal          string   `json:"journal" env:"JOURNAL"`
	TickInterval     string   `json:"tick_interval" env:"TICK_INTERVAL"`
	InvokeTimeout    string   `json:"invoke_timeout" env:"INVOKE_TIMEOUT"`
	LogLevel         string   `json:"log_level" env:"LOG_LEVEL"`
}

// Error codes for config failures.
const (
	ErrCodeRead     = "C001" // config file unreadable
	ErrCodeSchema   = "C002" // config does not satisfy #Config
	ErrCodeEnv      = "C003" // bad environment override
	ErrCodeDuration = "C004" // malformed duration
	ErrCodeInvalid  = "C005" // failed struct validation
)

// LoadError reports why configuration could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// CodeOf returns the LoadError code in err's chain, or "".
func CodeOf(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	cfg, err := build("", nil, func(string) (string, bool) { return "", false })
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}

// Load reads path (optional) on top of the defaults, then applies
// SCRIPTHOST_* environment overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeRead, Message: fmt.Sprintf("read %s: %v", path, err), Err: err}
		}
	}
	return build(path, data, os.LookupEnv)
}

func build(path string, data []byte, lookup func(string) (string, bool)) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if schema.Err() != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: "compile schema", Err: schema.Err()}
	}
	value := schema.LookupPath(cue.ParsePath("#Config"))

	if data != nil {
		user := ctx.CompileBytes(data, cue.Filename(path))
		if user.Err() != nil {
			return nil, schemaError(path, user.Err())
		}
		value = value.Unify(user)
	}
	if err := value.Validate(); err != nil {
		return nil, schemaError(path, err)
	}

	var raw file
	if err := value.Decode(&raw); err != nil {
		return nil, schemaError(path, err)
	}

	environ := map[string]string{}
	for _, key := range envKeys {
		if v, ok := lookup(EnvPrefix + key); ok {
			environ[EnvPrefix+key] = v
		}
	}
	if err := env.ParseWithOptions(&raw, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, &LoadError{Code: ErrCodeEnv, Message: err.Error(), Err: err}
	}

	tick, err := parseDuration("tick_interval", raw.TickInterval)
	if err != nil {
		return nil, err
	}
	timeout, err := parseDuration("invoke_timeout", raw.InvokeTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ScriptDir:        raw.ScriptDir,
		DefaultExtension: raw.DefaultExtension,
		DefaultNamespace: raw.DefaultNamespace,
		Categories:       raw.Categories,
		Worlds:           raw.Worlds,
		Journal:          raw.Journal,
		TickInterval:     tick,
		InvokeTimeout:    timeout,
		LogLevel:         raw.LogLevel,
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("config validation failed: %v", err), Err: err}
	}
	return cfg, nil
}

var envKeys = []string{
	"SCRIPT_DIR", "DEFAULT_EXTENSION", "DEFAULT_NAMESPACE", "CATEGORIES",
	"WORLDS", "JOURNAL", "TICK_INTERVAL", "INVOKE_TIMEOUT", "LOG_LEVEL",
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &LoadError{Code: ErrCodeDuration, Message: fmt.Sprintf("%s: %v", field, err), Err: err}
	}
	return d, nil
}

func schemaError(path string, err error) *LoadError {
	if path == "" {
		path = "defaults"
	}
	return &LoadError{
		Code:    ErrCodeSchema,
		Message: fmt.Sprintf("%s: %s", path, cueerrors.Details(err, nil)),
		Err:     err,
	}
}
