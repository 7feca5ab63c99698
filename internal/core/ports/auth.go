package ports

import "context"

// AuthenticatedUser is the identity the authenticator hands back after
// a successful code confirmation.
type AuthenticatedUser struct {
	ID          string
	PhoneNumber string
	// Token is an opaque session credential (a signed JWT in the dev
	// authenticator). Consumers treat it as a black box.
	Token string
}

// AuthStateFunc is invoked on every sign-in (non-nil user) and
// sign-out (nil user).
type AuthStateFunc func(user *AuthenticatedUser)

// Confirmation is the opaque handle returned by a code issuance. One
// handle per issuance; it is spent by a successful Confirm, while a
// rejected code leaves it usable for a retry.
type Confirmation interface {
	// VerificationID identifies this issuance.
	VerificationID() string

	// Confirm checks the code. Fails with domain.ErrInvalidCode on a
	// mismatch.
	Confirm(ctx context.Context, code string) (*AuthenticatedUser, error)
}

// PhoneAuthenticator is the remote identity service: code issuance,
// sign-out and the process-wide auth-state feed.
type PhoneAuthenticator interface {
	// SendVerificationCode delivers an OTP to the phone number. The
	// challenge widget is the proof-of-work; an unsolved or expired
	// widget fails with domain.ErrChallengeRejected.
	SendVerificationCode(ctx context.Context, phoneNumber string, proof ChallengeWidget) (Confirmation, error)

	// SignOut terminates the current session and broadcasts a nil user
	// to auth-state listeners.
	SignOut(ctx context.Context) error

	// OnAuthStateChange registers a process-wide listener. The cancel
	// deregisters it; it must be invoked on teardown so no writes leak
	// past the listener's owner.
	OnAuthStateChange(fn AuthStateFunc) CancelFunc
}
