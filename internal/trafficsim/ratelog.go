package trafficsim

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// rateLimitedLogger drops warnings that arrive within interval of the last
// one it let through, counting what it suppressed.
type rateLimitedLogger struct {
	log      zerolog.Logger
	interval time.Duration

	mu         sync.Mutex
	lastAt     time.Time
	suppressed int
}

func newRateLimitedLogger(l zerolog.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{log: l, interval: interval}
}

func (l *rateLimitedLogger) Warn(msg string) {
	l.mu.Lock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.suppressed++
		l.mu.Unlock()
		return
	}
	l.lastAt = now
	suppressed := l.suppressed
	l.suppressed = 0
	l.mu.Unlock()

	l.log.Warn().Int("suppressed", suppressed).Msg(msg)
}
