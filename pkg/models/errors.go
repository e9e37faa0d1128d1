package models

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrVideoNotFound      = errors.New("video not found")
	ErrRoomNameTaken      = errors.New("room name is already taken")
	ErrRoomAlreadyLoaded  = errors.New("room is already loaded")
	ErrVideoAlreadyQueued = errors.New("video is already in the queue")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// Metadata resolution error kinds.
var (
	ErrUnsupportedService = errors.New("unsupported service")
	ErrQuotaExhausted     = errors.New("metadata provider quota exhausted")
	ErrInvalidVideoID     = errors.New("invalid video id")
	ErrFeatureDisabled    = errors.New("feature is disabled")
)

// PermissionDeniedError names the exact permission the requester lacked.
type PermissionDeniedError struct {
	Permission string
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Permission)
}

// AsPermissionDenied unwraps err into a PermissionDeniedError if it is one.
func AsPermissionDenied(err error) (PermissionDeniedError, bool) {
	var pde PermissionDeniedError
	ok := errors.As(err, &pde)
	return pde, ok
}
