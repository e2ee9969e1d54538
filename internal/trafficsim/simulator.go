package trafficsim

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoTargets = errors.New("no target URLs: set targets.urls or a discovery source that yields pages")

// Simulator owns everything a run needs: the sink, the transport, the
// checked proxy pool and the stats loop.
type Simulator struct {
	cfg Config
	log zerolog.Logger

	fetcher Fetcher
	sink    RecordSink
	pool    *ProxyPool
	stats   *statsCollector

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSimulator prepares a run from a compiled config. Target discovery and
// proxy checks happen here, before any traffic is sent.
func NewSimulator(ctx context.Context, cfg Config, log zerolog.Logger) (*Simulator, error) {
	d := cfg.Targets.Discover
	if len(d.Sitemaps) > 0 || len(d.SeedPages) > 0 {
		dctx := ctx
		if d.timeoutDur > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, d.timeoutDur)
			defer cancel()
		}
		client := &http.Client{Timeout: cfg.Request.timeoutDur}
		cfg.Targets.URLs = newURLDiscoverer(client, d.MaxURLs, log).Discover(dctx, cfg.Targets.URLs, d.Sitemaps, d.SeedPages)
	}
	if len(cfg.Targets.URLs) == 0 {
		return nil, ErrNoTargets
	}

	fetcher, err := NewFetcher(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := NewRecordSink(ctx, cfg)
	if err != nil {
		if c, ok := fetcher.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}

	s := &Simulator{
		cfg:     cfg,
		log:     log,
		fetcher: fetcher,
		sink:    sink,
		stats:   newStatsCollector(),
		stopCh:  make(chan struct{}),
	}
	s.pool = s.preparePool(ctx)
	return s, nil
}

func (s *Simulator) preparePool(ctx context.Context) *ProxyPool {
	l := withComponent(s.log, "proxy")
	proxies, err := LoadProxyFile(s.cfg.Proxy.File)
	if err != nil {
		l.Warn().Err(err).Str("file", s.cfg.Proxy.File).Msg("cannot read proxy file, running direct")
		return nil
	}
	if len(proxies) == 0 {
		l.Info().Str("file", s.cfg.Proxy.File).Msg("no proxies configured, running direct requests")
		return nil
	}

	chk := NewProxyChecker(s.cfg.Proxy.CheckURL, s.cfg.Proxy.checkTimeoutDur, s.cfg.Proxy.CheckConcurrency, s.log)
	if s.cfg.Proxy.GeoIPDB != "" {
		geo, err := openGeoIP(s.cfg.Proxy.GeoIPDB)
		if err != nil {
			l.Warn().Err(err).Msg("GeoIP disabled")
		} else {
			defer geo.Close()
			chk.geo = geo
		}
	}

	good := chk.CheckAll(ctx, proxies)
	if len(good) == 0 {
		l.Warn().Int("checked", len(proxies)).Msg("no healthy proxies found, continuing without proxies")
		return nil
	}
	l.Info().Int("healthy", len(good)).Int("checked", len(proxies)).Msg("proxies available after check")
	return NewProxyPool(good)
}

// Run sends traffic until every session has finished or ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	if every := s.cfg.Logging.logStatsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}

	var pool ProxySource
	if s.pool != nil {
		pool = s.pool
	}
	exec := NewExecutor(s.fetcher, pool, RetryPolicyFromConfig(s.cfg), s.log)
	runner := NewSessionRunner(s.cfg, exec, s.sink, s.log)
	runner.stats = s.stats

	s.log.Info().
		Int("sessions", s.cfg.Sessions.Concurrent).
		Int("visits_min", s.cfg.Sessions.Visits.Min).
		Int("visits_max", s.cfg.Sessions.Visits.Max).
		Float64("bot_ratio", s.cfg.Sessions.BotRatio).
		Int("targets", len(s.cfg.Targets.URLs)).
		Str("transport", s.cfg.Request.Transport).
		Str("sink", s.cfg.Sink.Kind+":"+s.sinkLocation()).
		Bool("proxies", s.pool != nil).
		Msg("starting simulation")

	NewScheduler(s.cfg, runner).RunAll(ctx)
	s.logStats("simulation finished")
}

func (s *Simulator) sinkLocation() string {
	if s.cfg.Sink.Kind == SinkPostgres {
		return "database"
	}
	return s.cfg.Sink.Path
}

// Close stops background work and flushes the sink.
func (s *Simulator) Close() error {
	close(s.stopCh)
	s.wg.Wait()

	var errs []error
	if c, ok := s.fetcher.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.sink.Close())
	return errors.Join(errs...)
}

func (s *Simulator) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.logStats("progress")
		}
	}
}

func (s *Simulator) logStats(msg string) {
	ss := s.stats.Snapshot()
	ev := s.log.Info().
		Uint64("pageviews", ss.PageViews).
		Uint64("ok", ss.Succeeded).
		Uint64("failed", ss.Failed).
		Uint64("attempts", ss.Attempts).
		Uint64("sink_errors", ss.SinkErrors).
		Str("resp", strings.Join([]string{
			formatBytes(ss.MinRespBytes),
			formatBytes(ss.AvgRespBytes),
			formatBytes(ss.MaxRespBytes),
		}, "/"))
	if s.pool != nil {
		ev = ev.Int("proxies_eligible", s.pool.EligibleCount()).Int("proxies_total", s.pool.Size())
	}
	if rss, ok := processRSSBytes(); ok {
		ev = ev.Str("rss", formatBytes(rss))
	}
	ev.Msg(msg)
}
