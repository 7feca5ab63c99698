package devauth

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureTransport records delivered codes instead of sending them.
type captureTransport struct {
	phones []string
	codes  []string
	err    error
}

func (t *captureTransport) DeliverCode(ctx context.Context, phoneNumber, code string) error {
	if t.err != nil {
		return t.err
	}
	t.phones = append(t.phones, phoneNumber)
	t.codes = append(t.codes, code)
	return nil
}

func (t *captureTransport) lastCode() string {
	return t.codes[len(t.codes)-1]
}

type authFixture struct {
	transport *captureTransport
	service   *Service
	widget    ports.ChallengeWidget
}

func newAuthFixture(t *testing.T, opts Options) *authFixture {
	t.Helper()
	nopLogger := zerolog.Nop()
	if opts.JWTSecret == nil {
		opts.JWTSecret = []byte("test-secret")
	}
	f := &authFixture{transport: &captureTransport{}}
	f.service = NewService(f.transport, opts, &nopLogger)
	t.Cleanup(f.service.Close)

	broker := NewChallengeBroker(&nopLogger)
	widget, err := broker.Issue("recaptcha-container", ports.ChallengeOptions{Mode: ports.ChallengeInvisible})
	require.NoError(t, err)
	f.widget = widget
	return f
}

func TestService_SendAndConfirm(t *testing.T) {
	f := newAuthFixture(t, Options{})
	ctx := context.Background()

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)
	require.NotEmpty(t, conf.VerificationID())
	require.Len(t, f.transport.codes, 1)
	assert.Len(t, f.transport.lastCode(), 6)
	assert.Equal(t, "+15550000001", f.transport.phones[0])

	user, err := conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "+15550000001", user.PhoneNumber)
	assert.NotEmpty(t, user.Token)
	assert.Equal(t, user, f.service.CurrentUser())
}

func TestService_TokenClaims(t *testing.T) {
	f := newAuthFixture(t, Options{JWTSecret: []byte("claims-secret")})
	ctx := context.Background()

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)
	user, err := conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(user.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("claims-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "+15550000001", claims.PhoneNumber)
}

func TestService_WrongCodeIsRetryable(t *testing.T) {
	f := newAuthFixture(t, Options{})
	ctx := context.Background()

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)

	_, err = conf.Confirm(ctx, "000000000")
	require.ErrorIs(t, err, domain.ErrInvalidCode)
	assert.Nil(t, f.service.CurrentUser())

	// A mismatch does not spend the handle.
	user, err := conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestService_SpentHandleRejected(t *testing.T) {
	f := newAuthFixture(t, Options{})
	ctx := context.Background()

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)
	_, err = conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)

	_, err = conf.Confirm(ctx, f.transport.lastCode())
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestService_ExpiredCodeRejected(t *testing.T) {
	f := newAuthFixture(t, Options{CodeTTL: time.Nanosecond})
	ctx := context.Background()

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = conf.Confirm(ctx, f.transport.lastCode())
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestService_UnsolvedChallengeRejected(t *testing.T) {
	f := newAuthFixture(t, Options{})
	ctx := context.Background()

	nopLogger := zerolog.Nop()
	broker := NewChallengeBroker(&nopLogger)
	visible, err := broker.Issue("recaptcha-container", ports.ChallengeOptions{Mode: ports.ChallengeVisible})
	require.NoError(t, err)

	_, err = f.service.SendVerificationCode(ctx, "+15550000001", visible)
	assert.ErrorIs(t, err, domain.ErrChallengeRejected)

	_, err = f.service.SendVerificationCode(ctx, "+15550000001", nil)
	assert.ErrorIs(t, err, domain.ErrChallengeRejected)
	assert.Empty(t, f.transport.codes)
}

func TestService_RateLimit(t *testing.T) {
	f := newAuthFixture(t, Options{CodesPerMinute: 1, CodeBurst: 1})
	ctx := context.Background()

	_, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)

	_, err = f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	assert.ErrorIs(t, err, domain.ErrTooManyRequests)

	// Other numbers are limited independently.
	_, err = f.service.SendVerificationCode(ctx, "+15550000002", f.widget)
	assert.NoError(t, err)
}

func TestService_TransportFailure(t *testing.T) {
	f := newAuthFixture(t, Options{})
	f.transport.err = errors.New("telegram unreachable")

	_, err := f.service.SendVerificationCode(context.Background(), "+15550000001", f.widget)
	require.Error(t, err)
}

func TestService_StableIdentityPerPhone(t *testing.T) {
	// Two issuances for the same number in quick succession; the
	// default limit would reject the second.
	f := newAuthFixture(t, Options{CodesPerMinute: 60, CodeBurst: 10})
	ctx := context.Background()

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)
	first, err := conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)

	require.NoError(t, f.service.SignOut(ctx))

	conf, err = f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)
	second, err := conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestService_SignOutBroadcasts(t *testing.T) {
	f := newAuthFixture(t, Options{})
	ctx := context.Background()

	var states []*ports.AuthenticatedUser
	cancel := f.service.OnAuthStateChange(func(user *ports.AuthenticatedUser) {
		states = append(states, user)
	})
	defer cancel()

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)
	_, err = conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)

	require.NoError(t, f.service.SignOut(ctx))

	require.Len(t, states, 2)
	assert.NotNil(t, states[0])
	assert.Nil(t, states[1])
	assert.Nil(t, f.service.CurrentUser())
}

func TestService_SignOutWhenSignedOut(t *testing.T) {
	f := newAuthFixture(t, Options{})
	err := f.service.SignOut(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestService_ListenerCancelStopsDelivery(t *testing.T) {
	f := newAuthFixture(t, Options{})
	ctx := context.Background()

	var count int
	cancel := f.service.OnAuthStateChange(func(*ports.AuthenticatedUser) { count++ })
	cancel()
	cancel() // repeated cancel is a no-op

	conf, err := f.service.SendVerificationCode(ctx, "+15550000001", f.widget)
	require.NoError(t, err)
	_, err = conf.Confirm(ctx, f.transport.lastCode())
	require.NoError(t, err)

	assert.Zero(t, count)
}
