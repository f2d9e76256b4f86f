// Package config loads process settings from the environment and the run
// descriptor from JSON.
//
// The loading sequence is:
//  1. Load a .env file via godotenv (non-fatal if absent).
//  2. Populate Config from environment variables with envconfig.
//  3. Validate with go-playground/validator.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrorType classifies a ConfigError.
type ErrorType string

const (
	ErrParsing    ErrorType = "parsing"
	ErrValidation ErrorType = "validation"
	ErrDescriptor ErrorType = "descriptor"
)

// ConfigError wraps a configuration failure with its stage.
type ConfigError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// Config holds the settings shared by the commands.
type Config struct {
	StorePath        string `envconfig:"STORE_PATH" validate:"required"`
	StoreFormat      string `envconfig:"STORE_FORMAT" default:"netcdf" validate:"oneof=netcdf zarr memory"`
	StoreCompression bool   `envconfig:"STORE_COMPRESSION" default:"true"`
	CompressionLevel int    `envconfig:"STORE_COMPRESSION_LEVEL" default:"3" validate:"min=1,max=22"`

	RunDescriptor string `envconfig:"RUN_DESCRIPTOR"`
	SourceDir     string `envconfig:"SOURCE_DIR"`
	ReferenceDir  string `envconfig:"REFERENCE_DIR"`
	Workers       int    `envconfig:"WORKERS" default:"4" validate:"min=1,max=256"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	Port               int      `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// Load reads the given env files, or an optional ".env" when none are
// given, then the environment. Variables already set in the environment
// win. A named env file that cannot be read is an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to load env file",
			Err:     err,
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return &cfg, nil
}
