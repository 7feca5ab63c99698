// Package chat implements the conversation sync engine: the roster of
// other identities, the live subscription for the selected
// conversation, outgoing message appends, presence and sign-out.
package chat

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SendFailurePolicy decides what happens when the remote append fails
// after the draft was already cleared.
type SendFailurePolicy string

const (
	// SendFailureSilent logs the failure and drops the message. This is
	// the baseline behaviour.
	SendFailureSilent SendFailurePolicy = "silent"
	// SendFailureNotify surfaces the failure and restores the draft.
	SendFailureNotify SendFailurePolicy = "notify"
)

// Engine holds the per-conversation sync state for one authenticated
// session. Exactly one live watch is active at any time; every Select
// issues a fresh generation and snapshots apply only while their
// generation is the active one, so callbacks from a superseded watch
// are no-ops.
type Engine struct {
	log        zerolog.Logger
	store      ports.IdentityStore
	auth       ports.PhoneAuthenticator
	notifier   ports.Notifier
	navigator  ports.Navigator
	sendPolicy SendFailurePolicy
	presence   *PresenceBinder

	mu          sync.Mutex
	self        *ports.AuthenticatedUser
	roster      []*domain.Identity
	selected    *domain.Identity
	draft       string
	watchCancel ports.CancelFunc
	selectSeq   uint64
	activeGen   uint64
}

// NewEngine creates a sync engine for the given authenticated user.
// The presence binder is the process-wide one; the engine releases it
// on SignOut and Close.
func NewEngine(
	self *ports.AuthenticatedUser,
	store ports.IdentityStore,
	auth ports.PhoneAuthenticator,
	notifier ports.Notifier,
	navigator ports.Navigator,
	sendPolicy SendFailurePolicy,
	presence *PresenceBinder,
	baseLogger *zerolog.Logger,
) *Engine {
	if sendPolicy == "" {
		sendPolicy = SendFailureSilent
	}
	return &Engine{
		log:        baseLogger.With().Str("component", "sync_engine").Logger(),
		store:      store,
		auth:       auth,
		notifier:   notifier,
		navigator:  navigator,
		sendPolicy: sendPolicy,
		presence:   presence,
		self:       self,
	}
}

// LoadRoster fetches all identities and replaces the roster wholesale,
// excluding the authenticated identity itself. On failure the prior
// roster is kept.
func (e *Engine) LoadRoster(ctx context.Context) error {
	e.mu.Lock()
	self := e.self
	e.mu.Unlock()
	if self == nil {
		return domain.ErrNotAuthenticated
	}

	identities, err := e.store.List(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to load roster")
		return err
	}

	roster := make([]*domain.Identity, 0, len(identities))
	for _, identity := range identities {
		if identity.ID == self.ID {
			continue
		}
		roster = append(roster, identity)
	}

	e.mu.Lock()
	e.roster = roster
	e.mu.Unlock()
	e.log.Info().Int("count", len(roster)).Msg("Roster loaded")
	return nil
}

// Roster returns the current roster slice.
func (e *Engine) Roster() []*domain.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Identity, len(e.roster))
	copy(out, e.roster)
	return out
}

// Select makes identity the active conversation. The new watch is
// established first and the previous one released only when the
// switch commits, so a failed Watch leaves the prior selection and
// its subscription intact.
func (e *Engine) Select(ctx context.Context, identity *domain.Identity) error {
	if identity == nil {
		return domain.ErrNoConversation
	}

	e.mu.Lock()
	e.selectSeq++
	gen := e.selectSeq
	e.mu.Unlock()

	cancel, err := e.store.Watch(ctx, identity.ID, func(snapshot *domain.Identity) {
		e.applySnapshot(gen, snapshot)
	})
	if err != nil {
		// Read-path failure: nothing was torn down, the prior
		// conversation keeps its live watch.
		e.log.Error().Err(err).Str("identity_id", identity.ID).Msg("Failed to open conversation watch")
		return err
	}

	e.mu.Lock()
	if gen < e.selectSeq {
		// A later Select or Deselect superseded this one.
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.releaseWatchLocked()
	e.activeGen = gen
	e.selected = identity.Clone()
	e.watchCancel = cancel
	e.mu.Unlock()

	e.log.Info().Str("identity_id", identity.ID).Msg("Conversation selected")
	return nil
}

// Deselect closes the active conversation, releasing its watch.
func (e *Engine) Deselect() {
	e.mu.Lock()
	e.releaseWatchLocked()
	e.selectSeq++
	e.activeGen = 0
	e.selected = nil
	e.mu.Unlock()
}

// Selected returns the active conversation document, nil when none is
// selected.
func (e *Engine) Selected() *domain.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// applySnapshot replaces selected with a freshly delivered document.
// Snapshots replace wholesale; local optimistic edits survive only
// until the next snapshot arrives. Snapshots from any generation other
// than the active one are dropped, including the ones a pending Watch
// delivers before its Select commits.
func (e *Engine) applySnapshot(gen uint64, snapshot *domain.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.activeGen || snapshot == nil {
		return
	}
	e.selected = snapshot
}

// Draft returns the current draft text.
func (e *Engine) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// SetDraft stores the in-progress message text.
func (e *Engine) SetDraft(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = text
}

// Send appends an outgoing message to the selected peer's document.
// Whitespace-only text is a no-op with no remote call. The draft is
// cleared synchronously, before the outcome of the append is known;
// what happens on a failed append depends on the engine's
// SendFailurePolicy.
func (e *Engine) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyMessage
	}

	e.mu.Lock()
	if e.self == nil {
		e.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	if e.selected == nil {
		e.mu.Unlock()
		return domain.ErrNoConversation
	}
	peerID := e.selected.ID
	msg := domain.NewOutgoingMessage(e.self.ID, text)
	e.draft = ""
	// Optimistic local echo; the next snapshot replaces it with the
	// store's view.
	e.selected.Messages = append(e.selected.Messages, msg)
	e.mu.Unlock()

	if err := e.store.AppendMessage(ctx, peerID, msg); err != nil {
		e.log.Error().Err(err).Str("identity_id", peerID).Msg("Failed to append message")
		if e.sendPolicy == SendFailureNotify {
			e.rollbackSend(peerID, msg)
			e.notifier.Error(fmt.Sprintf("Message not sent: %s", err))
			return err
		}
		// Silent policy: the draft is gone and the echo will be dropped
		// by the next snapshot.
		return nil
	}
	return nil
}

// rollbackSend undoes the optimistic echo and restores the draft,
// unless the user started typing again or switched conversations.
func (e *Engine) rollbackSend(peerID string, msg domain.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected != nil && e.selected.ID == peerID {
		msgs := e.selected.Messages
		if n := len(msgs); n > 0 && msgs[n-1].Timestamp.Equal(msg.Timestamp) && msgs[n-1].SenderID == msg.SenderID {
			e.selected.Messages = msgs[:n-1]
		}
	}
	if e.draft == "" {
		e.draft = msg.Text
	}
}

// MarkSeen advances every peer message in the selected conversation to
// seen. Regression guards live in the store; already-seen messages are
// untouched.
func (e *Engine) MarkSeen(ctx context.Context) error {
	e.mu.Lock()
	if e.self == nil {
		e.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	if e.selected == nil {
		e.mu.Unlock()
		return domain.ErrNoConversation
	}
	selfID := e.self.ID
	peerID := e.selected.ID
	messages := make([]domain.Message, len(e.selected.Messages))
	copy(messages, e.selected.Messages)
	e.mu.Unlock()

	var firstErr error
	for i, msg := range messages {
		if msg.SenderID == selfID || msg.Status == domain.DeliverySeen {
			continue
		}
		if err := e.store.AdvanceMessageStatus(ctx, peerID, i, domain.DeliverySeen); err != nil {
			e.log.Error().Err(err).Int("index", i).Str("identity_id", peerID).Msg("Failed to mark message seen")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SignOut tears down the conversation watch, signs out of the identity
// service (the presence binder patches the identity offline during the
// broadcast), releases the binder and navigates back to verification.
func (e *Engine) SignOut(ctx context.Context) error {
	e.Deselect()

	err := e.auth.SignOut(ctx)
	if e.presence != nil {
		e.presence.Release()
	}
	if err != nil {
		e.log.Error().Err(err).Msg("Sign-out failed")
		e.notifier.Error(fmt.Sprintf("Error signing out: %s", err))
		return err
	}

	e.mu.Lock()
	e.self = nil
	e.roster = nil
	e.draft = ""
	e.mu.Unlock()

	e.notifier.Success("Signed out.")
	e.navigator.NavigateTo(ports.RouteVerify)
	return nil
}

// Close releases every held resource. Safe after SignOut; required on
// any other exit path (navigation away, component destruction).
func (e *Engine) Close() {
	e.Deselect()
	if e.presence != nil {
		e.presence.Release()
	}
}

// releaseWatchLocked cancels the active watch. Caller holds e.mu.
func (e *Engine) releaseWatchLocked() {
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
}
