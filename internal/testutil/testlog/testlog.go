package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshgate/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Logger.Debug().Str("test", t.Name()).Msg("start")
}
