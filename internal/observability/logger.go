package observability

import (
	"github.com/danmuck/setl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the configured process logger with app and installs it as
// the zerolog global.
func InitLogger(app string) zerolog.Logger {
	logger := logging.Logger().With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
