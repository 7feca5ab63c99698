package chat

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// PresenceBinder mirrors auth-state changes into the identity store:
// online on sign-in, offline on sign-out. One registration per binder
// lifetime; Release deregisters it exactly once so no status write can
// leak after the owning view is gone.
type PresenceBinder struct {
	log   zerolog.Logger
	auth  ports.PhoneAuthenticator
	store ports.IdentityStore

	mu     sync.Mutex
	cancel ports.CancelFunc
	lastID string
}

// NewPresenceBinder creates an unbound presence binder.
func NewPresenceBinder(auth ports.PhoneAuthenticator, store ports.IdentityStore, baseLogger *zerolog.Logger) *PresenceBinder {
	return &PresenceBinder{
		log:   baseLogger.With().Str("component", "presence_binder").Logger(),
		auth:  auth,
		store: store,
	}
}

// Bind registers the auth-state listener. Calling Bind on an already
// bound binder is a no-op.
func (b *PresenceBinder) Bind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	b.cancel = b.auth.OnAuthStateChange(b.onAuthState)
	b.log.Info().Msg("Presence listener bound")
}

// Release deregisters the listener. Safe to call repeatedly.
func (b *PresenceBinder) Release() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		b.log.Info().Msg("Presence listener released")
	}
}

// onAuthState patches the signed-in identity online, or the
// previously-known identity offline on sign-out.
func (b *PresenceBinder) onAuthState(user *ports.AuthenticatedUser) {
	// The broadcast originates in the identity service; there is no
	// caller context to inherit.
	ctx := context.Background()

	if user != nil {
		b.mu.Lock()
		b.lastID = user.ID
		b.mu.Unlock()
		if err := b.store.SetStatus(ctx, user.ID, domain.StatusOnline); err != nil {
			if errors.Is(err, domain.ErrIdentityNotFound) {
				// First verification: the sign-in broadcast arrives
				// before the record exists. The verification session
				// creates it online right after.
				b.log.Debug().Str("identity_id", user.ID).Msg("No identity record to patch yet")
				return
			}
			b.log.Error().Err(err).Str("identity_id", user.ID).Msg("Failed to set status online")
		}
		return
	}

	b.mu.Lock()
	lastID := b.lastID
	b.lastID = ""
	b.mu.Unlock()
	if lastID == "" {
		return
	}
	if err := b.store.SetStatus(ctx, lastID, domain.StatusOffline); err != nil {
		b.log.Error().Err(err).Str("identity_id", lastID).Msg("Failed to set status offline")
	}
}
