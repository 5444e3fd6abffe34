package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound = goerr.New("configuration file not found")
	ErrInvalidConfig  = goerr.New("invalid configuration")
	ErrInvalidRange   = goerr.New("value out of range")
	ErrInvalidScope   = goerr.New("invalid retrieval scope")
	ErrInvalidTimeout = goerr.New("invalid duration")
)

// Context keys for error values
const (
	ConfigPathKey = "config_path"
	SectionKey    = "section"
	KeyKey        = "key"
	ValueKey      = "value"
)
