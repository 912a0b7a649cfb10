package config

import "errors"

// Sentinel errors returned by Load, Parse and Validate.
var (
	// ErrMissingEnv indicates a ${VAR} reference to an unset variable.
	ErrMissingEnv = errors.New("config: missing required environment variables")

	// ErrParse indicates the document is not valid YAML for Config.
	ErrParse = errors.New("config: parse failed")

	// ErrInvalid indicates a value outside its allowed range.
	ErrInvalid = errors.New("config: invalid configuration")
)
