package trafficsim

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(t *testing.T, urls ...string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Targets.URLs = urls
	cfg.Sessions.Concurrent = 3
	cfg.Sessions.Visits = IntRange{Min: 2, Max: 2}
	cfg.Sessions.BotRatio = 0.5
	cfg.Sessions.DwellHuman = DurationRange{Min: "1ms", Max: "2ms"}
	cfg.Sessions.DwellBot = DurationRange{Min: "1ms", Max: "2ms"}
	cfg.Sessions.Stagger = DurationRange{Min: "1ms", Max: "2ms"}
	cfg.Request.Timeout = "2s"
	cfg.Request.Jitter = DurationRange{Min: "1ms", Max: "1ms"}
	cfg.Proxy.File = filepath.Join(dir, "proxies.txt")
	cfg.Proxy.CheckTimeout = "1s"
	cfg.Sink.Path = filepath.Join(dir, "traffic_log.csv")
	cfg.Logging.LogStatsEvery = "5ms"
	return cfg
}

func TestSimulator_DirectRun(t *testing.T) {
	var hits atomic.Int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer site.Close()

	cfg := fastConfig(t, site.URL+"/", site.URL+"/about")
	require.NoError(t, cfg.Compile())

	sim, err := NewSimulator(context.Background(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.Nil(t, sim.pool)

	sim.Run(context.Background())
	require.NoError(t, sim.Close())

	assert.Equal(t, int32(6), hits.Load())
	rows := readCSV(t, cfg.Sink.Path)
	require.Len(t, rows, 1+6)
	sessions := map[string]int{}
	for _, row := range rows[1:] {
		sessions[row[1]]++
		assert.Equal(t, "200", row[4])
		assert.Empty(t, row[7], "no proxy configured")
		assert.Contains(t, []string{NoteBot, NoteHuman}, row[9])
	}
	assert.Len(t, sessions, 3)
	for _, n := range sessions {
		assert.Equal(t, 2, n)
	}

	ss := sim.stats.Snapshot()
	assert.Equal(t, uint64(6), ss.PageViews)
	assert.Equal(t, uint64(6), ss.Succeeded)
}

func TestSimulator_UsesOnlyHealthyProxies(t *testing.T) {
	good, goodHits := newForwardProxy(t, http.StatusOK)
	bad, badHits := newForwardProxy(t, http.StatusForbidden)

	cfg := fastConfig(t, "http://site.test/")
	cfg.Proxy.CheckURL = "http://check.test/get"
	require.NoError(t, writeProxyFile(cfg.Proxy.File, endpointOf(good), endpointOf(bad), closedPort(t)))
	require.NoError(t, cfg.Compile())

	sim, err := NewSimulator(context.Background(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.NotNil(t, sim.pool)
	assert.Equal(t, 1, sim.pool.Size())

	sim.Run(context.Background())
	require.NoError(t, sim.Close())

	assert.Equal(t, int32(1), badHits.Load(), "the bad proxy only saw its health check")
	assert.Equal(t, int32(1+6), goodHits.Load())
	for _, row := range readCSV(t, cfg.Sink.Path)[1:] {
		assert.Equal(t, endpointOf(good), row[7])
	}
}

func TestSimulator_NoHealthyProxiesRunsDirect(t *testing.T) {
	var hits atomic.Int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer site.Close()

	cfg := fastConfig(t, site.URL+"/")
	require.NoError(t, writeProxyFile(cfg.Proxy.File, closedPort(t)))
	require.NoError(t, cfg.Compile())

	sim, err := NewSimulator(context.Background(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.Nil(t, sim.pool)

	sim.Run(context.Background())
	require.NoError(t, sim.Close())
	assert.Equal(t, int32(6), hits.Load())
}

func TestSimulator_UnreachableTargetIsLoggedNotFatal(t *testing.T) {
	cfg := fastConfig(t, "http://"+closedPort(t)+"/")
	cfg.Sessions.Concurrent = 1
	cfg.Sessions.Visits = IntRange{Min: 1, Max: 1}
	require.NoError(t, cfg.Compile())

	sim, err := NewSimulator(context.Background(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	sim.Run(context.Background())
	require.NoError(t, sim.Close())

	rows := readCSV(t, cfg.Sink.Path)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[1][4])
	assert.NotEmpty(t, rows[1][10])
	assert.Equal(t, uint64(3), sim.stats.Snapshot().Attempts)
}

func TestSimulator_DiscoversTargets(t *testing.T) {
	srv := newDiscoverySite(t)

	cfg := fastConfig(t)
	cfg.Targets.Discover.SeedPages = []string{srv.URL + "/home"}
	require.NoError(t, cfg.Compile())

	sim, err := NewSimulator(context.Background(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer sim.Close()
	assert.Contains(t, sim.cfg.Targets.URLs, srv.URL+"/contact")
}

func TestSimulator_NothingDiscoveredIsAnError(t *testing.T) {
	cfg := fastConfig(t)
	cfg.Targets.Discover.Sitemaps = []string{"http://" + closedPort(t) + "/sitemap.xml"}
	require.NoError(t, cfg.Compile())

	_, err := NewSimulator(context.Background(), cfg, zerolog.New(io.Discard))
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestSimulator_CancelStopsEarly(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer site.Close()

	cfg := fastConfig(t, site.URL+"/")
	cfg.Sessions.Concurrent = 50
	cfg.Sessions.Stagger = DurationRange{Min: "20ms", Max: "20ms"}
	require.NoError(t, cfg.Compile())

	sim, err := NewSimulator(context.Background(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	sim.Run(ctx)
	require.NoError(t, sim.Close())

	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Less(t, sim.stats.Snapshot().PageViews, uint64(100))
}

func writeProxyFile(path string, endpoints ...string) error {
	var b []byte
	for _, e := range endpoints {
		b = append(b, e+"\n"...)
	}
	return os.WriteFile(path, b, 0o644)
}
