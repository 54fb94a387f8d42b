package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"gata-mixer/src/server/util"

	"github.com/rs/zerolog"
)

const levelEnv = "GATA_MIXER_LOG_LEVEL"

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
)

// GetDefaultLogger returns the process-wide logger. Components derive their
// own logger from it with ComponentLogger.
func GetDefaultLogger() *zerolog.Logger {
	defaultLoggerOnce.Do(func() {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		defaultLogger = zerolog.New(out).With().Timestamp().Logger().Level(levelFromEnv())
	})
	return &defaultLogger
}

// ComponentLogger tags every event with the component name.
func ComponentLogger(component string) zerolog.Logger {
	return GetDefaultLogger().With().Str("component", component).Logger()
}

func levelFromEnv() zerolog.Level {
	raw := util.Getenv(levelEnv)
	if raw == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
