package appErrors

import (
	"errors"
	"fmt"
)

// ErrBroadcastNotFound is a sentinel error
type ErrBroadcastNotFound struct {
	BroadcastID int
}

func (e *ErrBroadcastNotFound) Error() string {
	return fmt.Sprintf("broadcast with ID %d not found", e.BroadcastID)
}

// Helper constructor
func NewBroadcastNotFound(id int) error {
	return &ErrBroadcastNotFound{BroadcastID: id}
}

// ErrCallNotFound covers lookups by internal id or provider SID.
type ErrCallNotFound struct {
	CallID      int
	ProviderSID string
}

func (e *ErrCallNotFound) Error() string {
	if e.ProviderSID != "" {
		return fmt.Sprintf("call with SID %s not found", e.ProviderSID)
	}
	return fmt.Sprintf("call with ID %d not found", e.CallID)
}

func NewCallNotFound(id int, sid string) error {
	return &ErrCallNotFound{CallID: id, ProviderSID: sid}
}

// ErrValidation maps to HTTP 400.
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string { return e.Message }

func NewValidation(format string, args ...any) error {
	return &ErrValidation{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict signals an action against a broadcast in the wrong state.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string { return e.Message }

func NewConflict(format string, args ...any) error {
	return &ErrConflict{Message: fmt.Sprintf(format, args...)}
}

// ErrTTSUnavailable means synthesis failed; the broadcast stays in draft.
type ErrTTSUnavailable struct {
	Cause error
}

func (e *ErrTTSUnavailable) Error() string {
	return fmt.Sprintf("TTS service unavailable: %v", e.Cause)
}

func (e *ErrTTSUnavailable) Unwrap() error { return e.Cause }

func NewTTSUnavailable(cause error) error {
	return &ErrTTSUnavailable{Cause: cause}
}

// ErrCDNUnavailable means the audio upload failed.
type ErrCDNUnavailable struct {
	Cause error
}

func (e *ErrCDNUnavailable) Error() string {
	return fmt.Sprintf("CDN unavailable: %v", e.Cause)
}

func (e *ErrCDNUnavailable) Unwrap() error { return e.Cause }

func NewCDNUnavailable(cause error) error {
	return &ErrCDNUnavailable{Cause: cause}
}

// ErrProviderRejection carries the telephony provider's error code for a
// rejected dial. The retry policy decides whether the call retries or
// lands terminal failed.
type ErrProviderRejection struct {
	Code    string
	Message string
}

func (e *ErrProviderRejection) Error() string {
	return fmt.Sprintf("provider rejected call (code %s): %s", e.Code, e.Message)
}

func NewProviderRejection(code, message string) error {
	return &ErrProviderRejection{Code: code, Message: message}
}

// ErrProviderUnreachable means the dial request never got a provider
// response (network failure, timeout).
type ErrProviderUnreachable struct {
	Cause error
}

func (e *ErrProviderUnreachable) Error() string {
	return fmt.Sprintf("telephony provider unreachable: %v", e.Cause)
}

func (e *ErrProviderUnreachable) Unwrap() error { return e.Cause }

func NewProviderUnreachable(cause error) error {
	return &ErrProviderUnreachable{Cause: cause}
}

// ErrSignatureInvalid maps to HTTP 403 with no diagnostic body.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	var b *ErrBroadcastNotFound
	var c *ErrCallNotFound
	return errors.As(err, &b) || errors.As(err, &c)
}
