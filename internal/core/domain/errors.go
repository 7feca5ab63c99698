package domain

import "errors"

// Sentinel errors shared across the session and the sync engine.
// Remote providers map their own failures onto these so callers can
// branch with errors.Is without knowing the concrete adapter.
var (
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeRejected = errors.New("challenge rejected")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNoConversation    = errors.New("no conversation selected")
	ErrEmptyMessage      = errors.New("empty message")
	ErrInvalidStatus     = errors.New("invalid delivery status")
	ErrStatusRegression  = errors.New("delivery status cannot regress")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrTooManyRequests   = errors.New("too many verification requests")
)
