package domain

// SessionState is a custom type for the verification session state machine ENUM
type SessionState string

const (
	// SessionIdle is the entry state; also the recovery state after any
	// remote rejection except a failed code confirmation.
	SessionIdle SessionState = "idle"
	// SessionChallengeReady means the anti-automation widget is rendered
	// and waiting to be solved.
	SessionChallengeReady SessionState = "challenge_ready"
	// SessionCodeSent means a verification code went out and a
	// confirmation handle is held.
	SessionCodeSent SessionState = "code_sent"
	// SessionVerified is reached exactly once, on successful confirmation.
	SessionVerified SessionState = "verified"
)
