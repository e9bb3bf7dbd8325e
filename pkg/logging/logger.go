// Package logging provides structured logging for rddm using zerolog.
// Terminals get human-readable console output; everything else gets JSON.
//
// Example usage:
//
//	log := logging.Default()
//	log.Info().Str("project_id", "p1").Msg("Topic created")
//
//	ctx := logging.WithProject(context.Background(), "p1")
//	ctx = logging.WithUser(ctx, userID)
//	logging.FromContext(ctx).Debug().Msg("Change published")
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultLogger backs FromContext when a context carries no logger.
var defaultLogger zerolog.Logger

func init() {
	defaultLogger = NewLoggerFromConfig(&Config{
		Level:   os.Getenv("RDDM_LOG_LEVEL"),
		Format:  os.Getenv("RDDM_LOG_FORMAT"),
		NoColor: os.Getenv("NO_COLOR") != "",
	})
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault replaces the default logger and zerolog's global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger
}
