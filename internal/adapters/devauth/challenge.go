package devauth

import (
	"ChatWeb/internal/core/ports"
	"sync"

	"github.com/rs/zerolog"
)

// ChallengeBroker issues development challenge widgets. Invisible
// widgets start solved; visible widgets must be driven via Solve. The
// session owns the singleton-per-mount lifecycle, the broker only
// creates.
type ChallengeBroker struct {
	log zerolog.Logger
}

var _ ports.ChallengeBroker = (*ChallengeBroker)(nil)

// NewChallengeBroker creates a dev challenge broker.
func NewChallengeBroker(baseLogger *zerolog.Logger) *ChallengeBroker {
	return &ChallengeBroker{
		log: baseLogger.With().Str("component", "challenge_broker").Logger(),
	}
}

// Issue creates a widget bound to the mount point.
func (b *ChallengeBroker) Issue(mountPointID string, opts ports.ChallengeOptions) (ports.ChallengeWidget, error) {
	w := &Widget{
		mountPoint: mountPointID,
		opts:       opts,
		solved:     opts.Mode == ports.ChallengeInvisible,
	}
	b.log.Info().
		Str("mount_point", mountPointID).
		Str("mode", string(opts.Mode)).
		Msg("Challenge widget issued")
	return w, nil
}

// Widget is the dev challenge widget. Solve and Expire drive the
// transitions a hosted widget would receive from its provider.
type Widget struct {
	mountPoint string
	opts       ports.ChallengeOptions

	mu       sync.Mutex
	solved   bool
	released bool
}

var _ ports.ChallengeWidget = (*Widget)(nil)

// MountPoint returns the UI element id the widget is bound to.
func (w *Widget) MountPoint() string {
	return w.mountPoint
}

// Solved reports whether the challenge is currently passed.
func (w *Widget) Solved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.solved && !w.released
}

// Solve marks the challenge passed and fires the solved callback.
func (w *Widget) Solve() {
	w.mu.Lock()
	if w.released || w.solved {
		w.mu.Unlock()
		return
	}
	w.solved = true
	onSolved := w.opts.OnSolved
	w.mu.Unlock()

	if onSolved != nil {
		onSolved()
	}
}

// Expire invalidates a previously solved challenge and fires the
// expiry callback.
func (w *Widget) Expire() {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return
	}
	w.solved = false
	onExpired := w.opts.OnExpired
	w.mu.Unlock()

	if onExpired != nil {
		onExpired()
	}
}

// Release tears the widget down; no callback fires afterwards.
func (w *Widget) Release() {
	w.mu.Lock()
	w.released = true
	w.opts.OnSolved = nil
	w.opts.OnExpired = nil
	w.mu.Unlock()
}
