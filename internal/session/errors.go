package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPhone = errors.New("phone number must be in international format, e.g. +243900000000")
	// ErrBusy means another pairing attempt holds the session slot.
	ErrBusy             = errors.New("a pairing attempt is already in progress")
	ErrConnectionClosed = errors.New("connection closed before a pairing code was issued")
	ErrPairingTimeout   = errors.New("timed out waiting for a pairing code")
)

// ThrottledError is returned when the global cooldown has not elapsed.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("pairing throttled, retry in %s", e.RetryAfter.Round(time.Second))
}
