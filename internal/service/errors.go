package service

import (
	"errors"
	"fmt"
	"time"
)

// Caller-facing error taxonomy. Handlers map these to HTTP statuses; nothing
// else leaks past the engine boundary.
var (
	ErrFeatureDisabled = errors.New("feature disabled")
	// ErrInvalidCode covers both a wrong door code and a tripped honeypot;
	// merging the two avoids signaling bot detection.
	ErrInvalidCode        = errors.New("invalid code")
	ErrLocked             = errors.New("temporarily locked")
	ErrTooFast            = errors.New("attempts too frequent")
	ErrRateLimited        = errors.New("rate limited")
	ErrNotUnlocked        = errors.New("not unlocked")
	ErrMissingFields      = errors.New("missing fields")
	ErrTooLong            = errors.New("message too long")
	ErrGroupNotConfigured = errors.New("target group not configured")
	ErrGroupNotFound      = errors.New("target group not found")
	ErrSendFailed         = errors.New("send failed")
)

// WaitError decorates ErrLocked, ErrTooFast and ErrRateLimited with the time
// the caller has to wait before trying again.
type WaitError struct {
	Err  error
	Wait time.Duration
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("%s: retry in %ds", e.Err.Error(), e.WaitSeconds())
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// WaitSeconds rounds the wait up to whole seconds, never below 1.
func (e *WaitError) WaitSeconds() int {
	secs := int((e.Wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func waitError(sentinel error, wait time.Duration) error {
	return &WaitError{Err: sentinel, Wait: wait}
}

// WaitSecondsFrom extracts the wait from an error chain, 0 if none.
func WaitSecondsFrom(err error) int {
	var we *WaitError
	if errors.As(err, &we) {
		return we.WaitSeconds()
	}
	return 0
}
