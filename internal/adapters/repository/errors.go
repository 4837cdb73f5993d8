package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("nickname not found")
	ErrInvalidLimit = errors.New("invalid ranking limit")
	// ErrStorage wraps backend failures. The wrapped cause is for logs only.
	ErrStorage = errors.New("storage failure")
)
