// Package devauth is a self-contained phone authenticator for
// environments without a hosted identity provider: it generates OTP
// codes, delivers them over a pluggable transport, rate-limits
// issuance per phone number, mints JWT session tokens and broadcasts
// auth-state changes to registered listeners.
package devauth

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes the dev authenticator.
type Options struct {
	// JWTSecret signs session tokens.
	JWTSecret []byte
	// TokenTTL is the session token lifetime. Defaults to 24h.
	TokenTTL time.Duration
	// CodeTTL is how long an issued code stays confirmable. Defaults
	// to 5 minutes.
	CodeTTL time.Duration
	// CodesPerMinute rate-limits issuance per phone number. Defaults
	// to 3 with a burst of 1.
	CodesPerMinute int
	CodeBurst      int
}

// Service implements ports.PhoneAuthenticator.
type Service struct {
	log       zerolog.Logger
	transport CodeTransport
	limiter   *limiterStore
	signer    *tokenSigner
	codeTTL   time.Duration

	mu            sync.Mutex
	phoneIdentity map[string]string // phone number -> stable identity id
	listeners     map[int64]ports.AuthStateFunc
	nextListener  int64
	current       *ports.AuthenticatedUser
}

var _ ports.PhoneAuthenticator = (*Service)(nil)

// NewService creates a dev authenticator delivering codes over
// transport.
func NewService(transport CodeTransport, opts Options, baseLogger *zerolog.Logger) *Service {
	codeTTL := opts.CodeTTL
	if codeTTL <= 0 {
		codeTTL = 5 * time.Minute
	}
	return &Service{
		log:           baseLogger.With().Str("component", "devauth").Logger(),
		transport:     transport,
		limiter:       newLimiterStore(opts.CodesPerMinute, opts.CodeBurst, time.Minute),
		signer:        newTokenSigner(opts.JWTSecret, opts.TokenTTL),
		codeTTL:       codeTTL,
		phoneIdentity: make(map[string]string),
		listeners:     make(map[int64]ports.AuthStateFunc),
	}
}

// Close stops background goroutines.
func (s *Service) Close() {
	s.limiter.stop()
}

// SendVerificationCode checks the challenge proof, rate-limits the
// phone number, generates a six digit code and hands back the
// confirmation handle for this issuance.
func (s *Service) SendVerificationCode(ctx context.Context, phoneNumber string, proof ports.ChallengeWidget) (ports.Confirmation, error) {
	if proof == nil || !proof.Solved() {
		return nil, domain.ErrChallengeRejected
	}
	if !s.limiter.allow(phoneNumber) {
		return nil, domain.ErrTooManyRequests
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}
	if err := s.transport.DeliverCode(ctx, phoneNumber, code); err != nil {
		return nil, err
	}

	verificationID := uuid.NewString()
	s.log.Info().
		Str("verification_id", verificationID).
		Str("phone_number", phoneNumber).
		Msg("Verification code sent")

	return &confirmation{
		svc:            s,
		verificationID: verificationID,
		phoneNumber:    phoneNumber,
		code:           code,
		issuedAt:       time.Now(),
	}, nil
}

// SignOut clears the current session and broadcasts a nil user.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	wasSignedIn := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if !wasSignedIn {
		return domain.ErrNotAuthenticated
	}
	s.log.Info().Msg("Signed out")
	s.broadcast(nil)
	return nil
}

// OnAuthStateChange registers a process-wide auth listener and returns
// its cancel handle.
func (s *Service) OnAuthStateChange(fn ports.AuthStateFunc) ports.CancelFunc {
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// CurrentUser returns the signed-in user, nil when signed out.
func (s *Service) CurrentUser() *ports.AuthenticatedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// signIn mints the session for a verified phone number and broadcasts
// it. The identity id is stable per phone number, matching a hosted
// provider where re-verification signs in the same account.
func (s *Service) signIn(phoneNumber string) (*ports.AuthenticatedUser, error) {
	s.mu.Lock()
	id, ok := s.phoneIdentity[phoneNumber]
	if !ok {
		id = uuid.NewString()
		s.phoneIdentity[phoneNumber] = id
	}
	s.mu.Unlock()

	token, err := s.signer.sign(id, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}
	user := &ports.AuthenticatedUser{ID: id, PhoneNumber: phoneNumber, Token: token}

	s.mu.Lock()
	s.current = user
	s.mu.Unlock()

	s.log.Info().Str("identity_id", id).Msg("Signed in")
	s.broadcast(user)
	return user, nil
}

// broadcast invokes every listener outside the service lock.
func (s *Service) broadcast(user *ports.AuthenticatedUser) {
	s.mu.Lock()
	fns := make([]ports.AuthStateFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
}

// confirmation is the one-per-issuance code handle. A successful
// Confirm spends it; a mismatch leaves it usable for a retry.
type confirmation struct {
	svc            *Service
	verificationID string
	phoneNumber    string
	code           string
	issuedAt       time.Time

	mu    sync.Mutex
	spent bool
}

var _ ports.Confirmation = (*confirmation)(nil)

func (c *confirmation) VerificationID() string {
	return c.verificationID
}

func (c *confirmation) Confirm(ctx context.Context, code string) (*ports.AuthenticatedUser, error) {
	c.mu.Lock()
	if c.spent {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: code already used", domain.ErrInvalidCode)
	}
	if time.Since(c.issuedAt) > c.svc.codeTTL {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: code expired", domain.ErrInvalidCode)
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(c.code)) != 1 {
		c.mu.Unlock()
		return nil, domain.ErrInvalidCode
	}
	c.spent = true
	c.mu.Unlock()

	return c.svc.signIn(c.phoneNumber)
}

// generateCode returns six crypto-random digits.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
