// Package session owns the phone-verification lifecycle: the state
// machine that turns an anonymous visitor into an authenticated
// identity with a profile record persisted.
package session

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrMissingPhone is returned when either phone input is empty.
	ErrMissingPhone = errors.New("country code and mobile number are required")
	// ErrMissingCode is returned when ConfirmCode gets an empty code.
	ErrMissingCode = errors.New("verification code is required")
	// ErrNoCodeSent is returned when ConfirmCode is called before a
	// code was issued.
	ErrNoCodeSent = errors.New("no verification code has been sent")
	// ErrSendInFlight guards the one-issuance-at-a-time rule.
	ErrSendInFlight = errors.New("a verification code request is already in flight")
)

// pendingSend holds a send request that arrived before the challenge
// widget was solved. It is dispatched by the widget's solved callback.
type pendingSend struct {
	countryCode  string
	mobileNumber string
}

// Session is the verification state machine:
//
//	Idle → ChallengeReady → CodeSent → Verified
//
// Any remote rejection drops back to Idle-with-error, except a rejected
// confirmation which stays in CodeSent so the user can retry the code.
type Session struct {
	log        zerolog.Logger
	broker     ports.ChallengeBroker
	auth       ports.PhoneAuthenticator
	store      ports.IdentityStore
	notifier   ports.Notifier
	navigator  ports.Navigator
	mountPoint string

	mu             sync.Mutex
	state          domain.SessionState
	widget         ports.ChallengeWidget
	pending        *pendingSend
	sendInFlight   bool
	confirmation   ports.Confirmation
	verificationID string
	phoneNumber    string
	lastErr        string
	user           *ports.AuthenticatedUser
}

// New creates a verification session bound to the given challenge mount
// point.
func New(
	broker ports.ChallengeBroker,
	auth ports.PhoneAuthenticator,
	store ports.IdentityStore,
	notifier ports.Notifier,
	navigator ports.Navigator,
	mountPointID string,
	baseLogger *zerolog.Logger,
) *Session {
	return &Session{
		log:        baseLogger.With().Str("component", "verification_session").Logger(),
		broker:     broker,
		auth:       auth,
		store:      store,
		notifier:   notifier,
		navigator:  navigator,
		mountPoint: mountPointID,
		state:      domain.SessionIdle,
	}
}

// State returns the current state of the machine.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent user-visible error message, empty
// when the last transition succeeded.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// VerificationID returns the opaque token of the current issuance.
func (s *Session) VerificationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verificationID
}

// User returns the authenticated user after a successful confirmation,
// nil before.
func (s *Session) User() *ports.AuthenticatedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// RenderChallenge acquires the singleton challenge widget. Idempotent:
// an already-rendered widget is reused. No network call happens here.
func (s *Session) RenderChallenge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderChallengeLocked()
}

func (s *Session) renderChallengeLocked() error {
	if s.widget != nil {
		return nil
	}
	widget, err := s.broker.Issue(s.mountPoint, ports.ChallengeOptions{
		Mode:      ports.ChallengeInvisible,
		OnSolved:  s.onChallengeSolved,
		OnExpired: s.onChallengeExpired,
	})
	if err != nil {
		s.failLocked(fmt.Sprintf("Error rendering challenge: %s", err))
		return err
	}
	s.widget = widget
	if s.state == domain.SessionIdle {
		s.state = domain.SessionChallengeReady
	}
	s.log.Info().Str("mount_point", s.mountPoint).Msg("Challenge widget rendered")
	return nil
}

// onChallengeSolved dispatches a send request that was parked while the
// widget was still unsolved.
func (s *Session) onChallengeSolved() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		return
	}
	// The widget's provider invokes this callback; there is no caller
	// context to inherit.
	if err := s.SendCode(context.Background(), pending.countryCode, pending.mobileNumber); err != nil {
		s.log.Error().Err(err).Msg("Deferred code send failed")
	}
}

// onChallengeExpired surfaces a recoverable error and resets to Idle.
// The widget stays mounted; the provider re-arms it on the next solve.
func (s *Session) onChallengeExpired() {
	s.mu.Lock()
	s.state = domain.SessionIdle
	s.lastErr = "Challenge expired. Please try again."
	s.pending = nil
	s.mu.Unlock()

	s.log.Warn().Msg("Challenge expired")
	s.notifier.Error("Challenge expired. Please try again.")
}

// SendCode requests a verification code for countryCode+mobileNumber.
// The full phone number is the plain concatenation of the two inputs.
// If the challenge widget has not been solved yet the request is parked
// and dispatched by the widget's solved callback.
func (s *Session) SendCode(ctx context.Context, countryCode, mobileNumber string) error {
	if countryCode == "" || mobileNumber == "" {
		return ErrMissingPhone
	}

	s.mu.Lock()
	if err := s.renderChallengeLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.widget.Solved() {
		s.pending = &pendingSend{countryCode: countryCode, mobileNumber: mobileNumber}
		s.mu.Unlock()
		s.log.Info().Msg("Send request parked until challenge is solved")
		return nil
	}
	if s.sendInFlight {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.sendInFlight = true
	widget := s.widget
	s.mu.Unlock()

	phoneNumber := countryCode + mobileNumber
	confirmation, err := s.auth.SendVerificationCode(ctx, phoneNumber, widget)

	s.mu.Lock()
	s.sendInFlight = false
	if err != nil {
		s.failLocked(fmt.Sprintf("Error sending OTP: %s", err))
		s.mu.Unlock()
		s.notifier.Error(fmt.Sprintf("Error sending OTP: %s", err))
		return err
	}
	s.confirmation = confirmation
	s.verificationID = confirmation.VerificationID()
	s.phoneNumber = phoneNumber
	s.state = domain.SessionCodeSent
	s.lastErr = ""
	s.mu.Unlock()

	s.log.Info().Str("verification_id", confirmation.VerificationID()).Msg("Verification code sent")
	s.notifier.Success("OTP has been sent to your mobile number.")
	return nil
}

// ConfirmCode checks the code against the held confirmation handle. On
// success the session reaches Verified exactly once, creates the
// identity record, clears its transient state and navigates to the chat
// view. A rejected code keeps the session in CodeSent for a retry.
func (s *Session) ConfirmCode(ctx context.Context, code string) (*ports.AuthenticatedUser, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	s.mu.Lock()
	if s.state != domain.SessionCodeSent || s.confirmation == nil {
		s.mu.Unlock()
		return nil, ErrNoCodeSent
	}
	confirmation := s.confirmation
	phoneNumber := s.phoneNumber
	s.mu.Unlock()

	user, err := confirmation.Confirm(ctx, code)
	if err != nil {
		// Stay in CodeSent: the user may retype the code.
		s.mu.Lock()
		s.lastErr = fmt.Sprintf("Error verifying OTP: %s", err)
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("Code confirmation rejected")
		s.notifier.Error(fmt.Sprintf("Error verifying OTP: %s", err))
		return nil, err
	}

	s.mu.Lock()
	s.state = domain.SessionVerified
	s.user = user
	s.mu.Unlock()

	s.log.Info().Str("identity_id", user.ID).Msg("Phone number verified")
	s.notifier.Success("Phone number verified successfully.")

	// A create, not an upsert: repeat verifications of the same phone
	// number produce separate records on purpose. The user is signed in
	// at the moment the record is born, so it starts online instead of
	// waiting for a presence patch that may have raced the create.
	identity := domain.NewIdentity(user.ID, phoneNumber)
	identity.Status = domain.StatusOnline
	if err := s.store.Create(ctx, identity); err != nil {
		s.log.Error().Err(err).Str("identity_id", user.ID).Msg("Failed to create identity record")
		s.notifier.Error(fmt.Sprintf("Error saving profile: %s", err))
		return user, err
	}

	s.mu.Lock()
	s.phoneNumber = ""
	s.verificationID = ""
	s.confirmation = nil
	s.lastErr = ""
	s.mu.Unlock()

	s.notifier.Success("Profile saved.")
	s.navigator.NavigateTo(ports.RouteChat)
	return user, nil
}

// Release tears the challenge widget down and resets the machine. Must
// run on every exit path so a later page visit re-acquires cleanly.
func (s *Session) Release() {
	s.mu.Lock()
	widget := s.widget
	s.widget = nil
	s.pending = nil
	s.confirmation = nil
	s.verificationID = ""
	s.phoneNumber = ""
	if s.state != domain.SessionVerified {
		s.state = domain.SessionIdle
	}
	s.mu.Unlock()

	if widget != nil {
		widget.Release()
		s.log.Info().Msg("Challenge widget released")
	}
}

// failLocked records a failure and drops the machine back to Idle.
// Caller holds s.mu.
func (s *Session) failLocked(msg string) {
	s.state = domain.SessionIdle
	s.lastErr = msg
	s.log.Error().Str("error", msg).Msg("Verification step failed")
}
