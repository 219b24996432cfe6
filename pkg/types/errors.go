package types

import "errors"

// Kind is a stable wire code sent to clients in an
// error/queue:error/match:error event.
type Kind string

const (
	KindAuthInvalid        Kind = "AUTH_INVALID"
	KindBanned             Kind = "BANNED"
	KindValidation         Kind = "VALIDATION"
	KindAlreadyQueued      Kind = "ALREADY_QUEUED"
	KindNotInQueue         Kind = "NOT_IN_QUEUE"
	KindAlreadyInSession   Kind = "ALREADY_IN_SESSION"
	KindNotInSession       Kind = "NOT_IN_SESSION"
	KindPartnerUnavailable Kind = "PARTNER_UNAVAILABLE"
	KindStoreUnavailable   Kind = "STORE_UNAVAILABLE"
	KindOverloaded         Kind = "OVERLOADED"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindInternal           Kind = "INTERNAL"
)

// defaultMessages gives each kind a human-readable message with no
// internal detail — stack traces and wrapped errors never cross the wire.
var defaultMessages = map[Kind]string{
	KindAuthInvalid:        "authentication failed",
	KindBanned:             "this account cannot connect",
	KindValidation:         "request was invalid",
	KindAlreadyQueued:      "already waiting for a match",
	KindNotInQueue:         "not currently in a queue",
	KindAlreadyInSession:   "already in an active session",
	KindNotInSession:       "no active session",
	KindPartnerUnavailable: "partner is no longer available",
	KindStoreUnavailable:   "try again in a moment",
	KindOverloaded:         "server is busy, try again shortly",
	KindRateLimited:        "slow down and try again",
	KindInternal:           "something went wrong",
}

// CoreError is the typed error surfaced to WebSocket clients: a stable
// code plus a short message.
type CoreError struct {
	Kind Kind
	Msg  string
}

func (e *CoreError) Error() string {
	return string(e.Kind) + ": " + e.Msg
}

func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a CoreError with the kind's default message.
func NewError(kind Kind) *CoreError {
	return &CoreError{Kind: kind, Msg: defaultMessages[kind]}
}

// ErrorKind extracts the Kind from err if it is (or wraps) a *CoreError,
// defaulting to KindInternal otherwise.
func ErrorKind(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Sentinel instances for the common cases, used with errors.Is.
var (
	ErrValidation         = NewError(KindValidation)
	ErrAlreadyQueued      = NewError(KindAlreadyQueued)
	ErrNotInQueue         = NewError(KindNotInQueue)
	ErrAlreadyInSession   = NewError(KindAlreadyInSession)
	ErrNotInSession       = NewError(KindNotInSession)
	ErrPartnerUnavailable = NewError(KindPartnerUnavailable)
	ErrStoreUnavailable   = NewError(KindStoreUnavailable)
	ErrOverloaded         = NewError(KindOverloaded)
	ErrRateLimited        = NewError(KindRateLimited)
	ErrAuthInvalid        = NewError(KindAuthInvalid)
	ErrBanned             = NewError(KindBanned)
)
