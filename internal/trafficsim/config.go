package trafficsim

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportHTTP    = "http"
	TransportBrowser = "browser"

	SinkCSV      = "csv"
	SinkLevelDB  = "leveldb"
	SinkPostgres = "postgres"
)

type Config struct {
	Targets struct {
		URLs       []string `yaml:"urls"`
		UserAgents []string `yaml:"userAgents"`
		Referrers  []string `yaml:"referrers"`

		Discover struct {
			Sitemaps  []string `yaml:"sitemaps"`
			SeedPages []string `yaml:"seedPages"`
			MaxURLs   int      `yaml:"maxURLs"`
			Timeout   string   `yaml:"timeout"`

			timeoutDur time.Duration
		} `yaml:"discover"`
	} `yaml:"targets"`

	Sessions struct {
		Concurrent  int           `yaml:"concurrent"`
		MaxInFlight int           `yaml:"maxInFlight"`
		Visits      IntRange      `yaml:"visits"`
		BotRatio    float64       `yaml:"botRatio"`
		DwellHuman  DurationRange `yaml:"dwellHuman"`
		DwellBot    DurationRange `yaml:"dwellBot"`
		Stagger     DurationRange `yaml:"stagger"`
	} `yaml:"sessions"`

	Request struct {
		Transport    string        `yaml:"transport"`
		Timeout      string        `yaml:"timeout"`
		RetryLimit   int           `yaml:"retryLimit"`
		MaxBodyBytes string        `yaml:"maxBodyBytes"`
		Jitter       DurationRange `yaml:"jitter"`

		timeoutDur time.Duration
		maxBody    int64
	} `yaml:"request"`

	Proxy struct {
		File              string  `yaml:"file"`
		CheckURL          string  `yaml:"checkURL"`
		CheckTimeout      string  `yaml:"checkTimeout"`
		CheckConcurrency  int     `yaml:"checkConcurrency"`
		BackoffBase       float64 `yaml:"backoffBase"`
		BackoffMultiplier string  `yaml:"backoffMultiplier"`
		GeoIPDB           string  `yaml:"geoipDB"`

		checkTimeoutDur time.Duration
		backoffMulDur   time.Duration
	} `yaml:"proxy"`

	Sink struct {
		Kind        string `yaml:"kind"`
		Path        string `yaml:"path"`
		DatabaseURL string `yaml:"databaseURL"`
	} `yaml:"sink"`

	Logging struct {
		Level         string `yaml:"level"`
		Quiet         bool   `yaml:"quiet"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

type IntRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// DurationRange is a uniform [Min, Max] interval written as Go durations.
type DurationRange struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`

	minDur time.Duration
	maxDur time.Duration
}

func NewDurationRange(lo, hi time.Duration) DurationRange {
	return DurationRange{Min: lo.String(), Max: hi.String(), minDur: lo, maxDur: hi}
}

func (r *DurationRange) compile() error {
	lo, err := time.ParseDuration(strings.TrimSpace(r.Min))
	if err != nil {
		return fmt.Errorf("min: %w", err)
	}
	hi, err := time.ParseDuration(strings.TrimSpace(r.Max))
	if err != nil {
		return fmt.Errorf("max: %w", err)
	}
	if lo < 0 || hi < lo {
		return fmt.Errorf("invalid range %s..%s", lo, hi)
	}
	r.minDur, r.maxDur = lo, hi
	return nil
}

func (r DurationRange) Bounds() (time.Duration, time.Duration) { return r.minDur, r.maxDur }

// DefaultConfig mirrors the values the simulator has always shipped with.
func DefaultConfig() Config {
	var cfg Config
	cfg.Targets.UserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15",
		"python-requests/2.28.1",
		"curl/7.81.0",
	}
	cfg.Targets.Referrers = []string{
		"https://www.google.com/",
		"https://www.facebook.com/",
		"https://t.me/example",
		"",
	}
	cfg.Targets.Discover.MaxURLs = 200
	cfg.Targets.Discover.Timeout = "30s"

	cfg.Sessions.Concurrent = 20
	cfg.Sessions.Visits = IntRange{Min: 3, Max: 10}
	cfg.Sessions.DwellHuman = DurationRange{Min: "4s", Max: "20s"}
	cfg.Sessions.DwellBot = DurationRange{Min: "200ms", Max: "2s"}
	cfg.Sessions.Stagger = DurationRange{Min: "50ms", Max: "1s"}

	cfg.Request.Transport = TransportHTTP
	cfg.Request.Timeout = "10s"
	cfg.Request.RetryLimit = 3
	cfg.Request.MaxBodyBytes = "2mb"
	cfg.Request.Jitter = DurationRange{Min: "500ms", Max: "1500ms"}

	cfg.Proxy.File = "proxies.txt"
	cfg.Proxy.CheckURL = "http://httpbin.org/get"
	cfg.Proxy.CheckTimeout = "6s"
	cfg.Proxy.CheckConcurrency = 20
	cfg.Proxy.BackoffBase = 1.5
	cfg.Proxy.BackoffMultiplier = "5s"

	cfg.Sink.Kind = SinkCSV
	cfg.Sink.Path = "traffic_log.csv"

	cfg.Logging.Level = "info"
	cfg.Logging.LogStatsEvery = "30s"
	return cfg
}

// LoadConfig reads a YAML file on top of DefaultConfig. A missing file is not
// an error when allowMissing is set. The result still has to be compiled.
func LoadConfig(path string, allowMissing bool) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Compile validates the configuration and parses every duration and size.
func (cfg *Config) Compile() error {
	cfg.Targets.URLs = trimNonEmpty(cfg.Targets.URLs)
	cfg.Targets.UserAgents = trimNonEmpty(cfg.Targets.UserAgents)
	if len(cfg.Targets.UserAgents) == 0 {
		return fmt.Errorf("targets.userAgents is empty")
	}
	if len(cfg.Targets.Referrers) == 0 {
		cfg.Targets.Referrers = []string{""}
	}
	if cfg.Targets.Discover.Timeout != "" {
		d, err := time.ParseDuration(cfg.Targets.Discover.Timeout)
		if err != nil {
			return fmt.Errorf("targets.discover.timeout: %w", err)
		}
		cfg.Targets.Discover.timeoutDur = d
	}
	if len(cfg.Targets.URLs) == 0 && len(cfg.Targets.Discover.Sitemaps) == 0 && len(cfg.Targets.Discover.SeedPages) == 0 {
		return fmt.Errorf("targets.urls is empty and no discovery source is configured")
	}

	s := &cfg.Sessions
	if s.Concurrent <= 0 {
		return fmt.Errorf("sessions.concurrent must be positive, got %d", s.Concurrent)
	}
	if s.MaxInFlight < 0 {
		return fmt.Errorf("sessions.maxInFlight must not be negative")
	}
	if s.Visits.Min < 1 || s.Visits.Max < s.Visits.Min {
		return fmt.Errorf("sessions.visits: invalid range %d..%d", s.Visits.Min, s.Visits.Max)
	}
	if s.BotRatio < 0 || s.BotRatio > 1 {
		return fmt.Errorf("sessions.botRatio must be within [0,1], got %v", s.BotRatio)
	}
	if err := s.DwellHuman.compile(); err != nil {
		return fmt.Errorf("sessions.dwellHuman: %w", err)
	}
	if err := s.DwellBot.compile(); err != nil {
		return fmt.Errorf("sessions.dwellBot: %w", err)
	}
	if err := s.Stagger.compile(); err != nil {
		return fmt.Errorf("sessions.stagger: %w", err)
	}

	r := &cfg.Request
	switch r.Transport {
	case TransportHTTP, TransportBrowser:
	default:
		return fmt.Errorf("request.transport: unknown transport %q", r.Transport)
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return fmt.Errorf("request.timeout: %w", err)
	}
	r.timeoutDur = d
	if r.RetryLimit < 1 {
		return fmt.Errorf("request.retryLimit must be at least 1")
	}
	if r.MaxBodyBytes != "" {
		n, err := parseBytes(r.MaxBodyBytes)
		if err != nil {
			return fmt.Errorf("request.maxBodyBytes: %w", err)
		}
		r.maxBody = n
	}
	if err := r.Jitter.compile(); err != nil {
		return fmt.Errorf("request.jitter: %w", err)
	}

	p := &cfg.Proxy
	if d, err = time.ParseDuration(p.CheckTimeout); err != nil {
		return fmt.Errorf("proxy.checkTimeout: %w", err)
	}
	p.checkTimeoutDur = d
	if d, err = time.ParseDuration(p.BackoffMultiplier); err != nil {
		return fmt.Errorf("proxy.backoffMultiplier: %w", err)
	}
	p.backoffMulDur = d
	if p.BackoffBase < 1 {
		return fmt.Errorf("proxy.backoffBase must be >= 1, got %v", p.BackoffBase)
	}
	if p.CheckConcurrency <= 0 {
		p.CheckConcurrency = 1
	}

	switch cfg.Sink.Kind {
	case SinkCSV, SinkLevelDB:
		if cfg.Sink.Path == "" {
			return fmt.Errorf("sink.path is required for %s sink", cfg.Sink.Kind)
		}
	case SinkPostgres:
		if cfg.Sink.DatabaseURL == "" {
			cfg.Sink.DatabaseURL = os.Getenv("DATABASE_URL")
		}
		if cfg.Sink.DatabaseURL == "" {
			return fmt.Errorf("sink.databaseURL (or DATABASE_URL) is required for postgres sink")
		}
	default:
		return fmt.Errorf("sink.kind: unknown sink %q", cfg.Sink.Kind)
	}

	if cfg.Logging.LogStatsEvery != "" {
		if d, err = time.ParseDuration(cfg.Logging.LogStatsEvery); err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		cfg.Logging.logStatsEveryDur = d
	}
	return nil
}

func (cfg *Config) RequestTimeout() time.Duration { return cfg.Request.timeoutDur }

func (cfg *Config) CheckTimeout() time.Duration { return cfg.Proxy.checkTimeoutDur }

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
