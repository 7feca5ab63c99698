package devauth

import (
	"context"

	"github.com/rs/zerolog"
)

// CodeTransport delivers a verification code out of band. The SMS
// gateway of a hosted provider is replaced in development by the log
// transport below or the Telegram dispatcher.
type CodeTransport interface {
	DeliverCode(ctx context.Context, phoneNumber, code string) error
}

// LogTransport writes the code to the log. Local development only.
type LogTransport struct {
	log zerolog.Logger
}

var _ CodeTransport = (*LogTransport)(nil)

// NewLogTransport creates a transport that logs codes instead of
// sending them.
func NewLogTransport(baseLogger *zerolog.Logger) *LogTransport {
	return &LogTransport{log: baseLogger.With().Str("component", "log_transport").Logger()}
}

func (t *LogTransport) DeliverCode(ctx context.Context, phoneNumber, code string) error {
	t.log.Info().Str("phone_number", phoneNumber).Str("code", code).Msg("Verification code issued")
	return nil
}
