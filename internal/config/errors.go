package config

import "errors"

// Error kinds returned by Store operations. Callers match them with errors.Is;
// anything else is an internal failure.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrExpired    = errors.New("expired")
	ErrClosed     = errors.New("store closed")
)
