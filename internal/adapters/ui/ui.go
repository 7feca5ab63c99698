// Package ui provides headless stand-ins for the rendered interface:
// notifications and navigation signals are written to the log. The
// real UI replaces these at the port boundary.
package ui

import (
	"ChatWeb/internal/core/ports"

	"github.com/rs/zerolog"
)

// LogNotifier logs toasts instead of rendering them.
type LogNotifier struct {
	log zerolog.Logger
}

var _ ports.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(baseLogger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: baseLogger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Success(msg string) {
	n.log.Info().Str("toast", "success").Msg(msg)
}

func (n *LogNotifier) Error(msg string) {
	n.log.Warn().Str("toast", "error").Msg(msg)
}

// LogNavigator logs navigation signals instead of switching views.
type LogNavigator struct {
	log zerolog.Logger
}

var _ ports.Navigator = (*LogNavigator)(nil)

// NewLogNavigator creates a log-backed navigator.
func NewLogNavigator(baseLogger *zerolog.Logger) *LogNavigator {
	return &LogNavigator{log: baseLogger.With().Str("component", "navigator").Logger()}
}

func (n *LogNavigator) NavigateTo(route string) {
	n.log.Info().Str("route", route).Msg("Navigation requested")
}
