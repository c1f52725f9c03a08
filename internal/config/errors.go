package config

import "errors"

// ErrInvalid wraps every error reported by File.Validate.
var ErrInvalid = errors.New("invalid configuration")
