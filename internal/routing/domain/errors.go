package domain

import "errors"

// ErrConfig marks configuration-time failures. They abort startup and are never retried.
var ErrConfig = errors.New("configuration error")
