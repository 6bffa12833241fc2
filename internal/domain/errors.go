package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConnected  = errors.New("realtime session not connected")
	ErrSessionClosed = errors.New("realtime session closed")
	ErrStaleRace     = errors.New("stale race snapshot")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrBackend       = errors.New("backend request failed")
)
