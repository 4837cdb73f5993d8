package model

import "errors"

// ErrValidation marks input that was rejected before any state change.
var ErrValidation = errors.New("validation failed")
