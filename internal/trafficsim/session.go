package trafficsim

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestExecutor is what a session needs to issue one page request.
type RequestExecutor interface {
	Execute(ctx context.Context, rawURL string, header http.Header) Result
}

type SessionRunner struct {
	urls       []string
	userAgents []string
	referrers  []string

	visits     IntRange
	botRatio   float64
	dwellHuman DurationRange
	dwellBot   DurationRange

	exec  RequestExecutor
	sink  RecordSink
	stats *statsCollector
	log   zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSessionRunner expects a compiled Config.
func NewSessionRunner(cfg Config, exec RequestExecutor, sink RecordSink, log zerolog.Logger) *SessionRunner {
	return &SessionRunner{
		urls:       cfg.Targets.URLs,
		userAgents: cfg.Targets.UserAgents,
		referrers:  cfg.Targets.Referrers,
		visits:     cfg.Sessions.Visits,
		botRatio:   cfg.Sessions.BotRatio,
		dwellHuman: cfg.Sessions.DwellHuman,
		dwellBot:   cfg.Sessions.DwellBot,
		exec:       exec,
		sink:       sink,
		log:        withComponent(log, "session"),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run plays one simulated visitor to completion, or until ctx is cancelled.
// Each page view is recorded before the dwell pause that follows it.
func (r *SessionRunner) Run(ctx context.Context, index int) {
	sessionID := uuid.NewString()
	pageviews := r.visits.Min + rand.IntN(r.visits.Max-r.visits.Min+1)
	isBot := rand.Float64() < r.botRatio

	note, dwellRange := NoteHuman, r.dwellHuman
	if isBot {
		note, dwellRange = NoteBot, r.dwellBot
	}
	l := r.log.With().Int("session", index).Str("session_id", sessionID[:8]).Logger()
	l.Debug().Int("pageviews", pageviews).Str("kind", note).Msg("session started")

	for seq := 1; seq <= pageviews; seq++ {
		if ctx.Err() != nil {
			return
		}
		pageURL := pick(r.urls)
		ua := pick(r.userAgents)
		ref := pick(r.referrers)

		header := http.Header{}
		header.Set("User-Agent", ua)
		if ref != "" {
			header.Set("Referer", ref)
		}

		ts := r.now()
		res := r.exec.Execute(ctx, pageURL, header)
		lo, hi := dwellRange.Bounds()
		dwell := uniformDuration(lo, hi)

		rec := SessionRecord{
			Timestamp: ts,
			SessionID: sessionID,
			Seq:       seq,
			URL:       pageURL,
			Status:    res.Status,
			UserAgent: ua,
			Referrer:  ref,
			Proxy:     res.Proxy,
			Dwell:     dwell,
			Note:      note,
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if r.stats != nil {
			r.stats.Observe(res)
		}
		if err := r.sink.Append(rec); err != nil {
			if r.stats != nil {
				r.stats.SinkError()
			}
			l.Error().Err(err).Int("seq", seq).Msg("failed to append record")
		}

		ev := l.Info()
		if res.Err != nil {
			ev = l.Warn().Err(res.Err)
		}
		ev.Int("seq", seq).
			Int("of", pageviews).
			Str("url", pageURL).
			Int("status", res.Status).
			Str("proxy", res.Proxy).
			Dur("dwell", dwell).
			Str("note", note).
			Msg("page view")

		if err := r.sleep(ctx, dwell); err != nil {
			return
		}
	}
}

func pick(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[rand.IntN(len(list))]
}
