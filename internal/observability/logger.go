package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/uavbus/internal/logging"
)

// InitLogger applies the runtime logging profile and tags the global logger
// with app and node.
func InitLogger(app, node string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Str("node", node).Logger()
	log.Logger = logger
	return logger
}
