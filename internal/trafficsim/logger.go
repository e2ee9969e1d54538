package trafficsim

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the run's root logger. Quiet raises the floor to warn so
// per-page-view lines are suppressed but failures still surface.
func NewLogger(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Logging.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Logging.Quiet && level < zerolog.WarnLevel {
		level = zerolog.WarnLevel
	}

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	cw := zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

func withComponent(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
