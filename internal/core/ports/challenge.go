package ports

// ChallengeMode selects how the anti-automation widget presents itself.
type ChallengeMode string

const (
	ChallengeInvisible ChallengeMode = "invisible"
	ChallengeVisible   ChallengeMode = "visible"
)

// ChallengeOptions configures a widget at issuance time.
type ChallengeOptions struct {
	Mode ChallengeMode
	// OnSolved fires when the widget is solved.
	OnSolved func()
	// OnExpired fires when a solved widget times out and must be
	// re-rendered.
	OnExpired func()
}

// ChallengeWidget is a rendered anti-automation challenge. It doubles
// as the proof-of-work passed to SendVerificationCode.
type ChallengeWidget interface {
	// MountPoint returns the id of the UI element the widget is bound to.
	MountPoint() string

	// Solved reports whether the challenge has been passed and has not
	// expired since.
	Solved() bool

	// Release tears the widget down. After Release neither callback
	// fires again.
	Release()
}

// ChallengeBroker issues challenge widgets. One widget per mount point
// per page lifetime; the session enforces the singleton, the broker
// only creates.
type ChallengeBroker interface {
	Issue(mountPointID string, opts ChallengeOptions) (ChallengeWidget, error)
}
