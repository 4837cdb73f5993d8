package service

import "errors"

// ErrUnauthorized is returned when a submission presents the wrong password
// for a registered nickname. Nothing is written in that case.
var ErrUnauthorized = errors.New("nickname is registered with a different password")
