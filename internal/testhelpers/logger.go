package testhelpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger sends the global logger to the test output for the duration of
// the test.
func SetupLogger(t *testing.T) {
	t.Helper()

	prevLogger := log.Logger
	prevContext := zerolog.DefaultContextLogger

	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger

	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.DefaultContextLogger = prevContext
	})
}
