package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshgate/internal/logging"
)

// InitLogger configures the global zerolog output for the runtime profile
// and returns an app-tagged logger.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	return logger
}
