package trafficsim

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ProxySource is the part of ProxyPool the executor needs.
type ProxySource interface {
	Get() (string, bool)
	MarkDead(endpoint string, backoff time.Duration)
}

type RetryPolicy struct {
	Limit   int
	Timeout time.Duration

	// A proxy that fails on attempt n is benched for
	// floor(BackoffBase^n) * BackoffMultiplier.
	BackoffBase       float64
	BackoffMultiplier time.Duration

	// Before attempt n+1 the executor waits uniform(JitterMin, JitterMax) * n.
	JitterMin time.Duration
	JitterMax time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Limit:             3,
		Timeout:           10 * time.Second,
		BackoffBase:       1.5,
		BackoffMultiplier: 5 * time.Second,
		JitterMin:         500 * time.Millisecond,
		JitterMax:         1500 * time.Millisecond,
	}
}

func RetryPolicyFromConfig(cfg Config) RetryPolicy {
	jmin, jmax := cfg.Request.Jitter.Bounds()
	return RetryPolicy{
		Limit:             cfg.Request.RetryLimit,
		Timeout:           cfg.Request.timeoutDur,
		BackoffBase:       cfg.Proxy.BackoffBase,
		BackoffMultiplier: cfg.Proxy.backoffMulDur,
		JitterMin:         jmin,
		JitterMax:         jmax,
	}
}

func (p RetryPolicy) deadFor(attempt int) time.Duration {
	return time.Duration(math.Floor(math.Pow(p.BackoffBase, float64(attempt)))) * p.BackoffMultiplier
}

func (p RetryPolicy) retryDelay(attempt int) time.Duration {
	return uniformDuration(p.JitterMin, p.JitterMax) * time.Duration(attempt)
}

// Result is the outcome of one logical page request.
type Result struct {
	Status   int    // 0 when no response was received
	Err      error  // last transport error when every attempt failed
	Proxy    string // proxy used by the final attempt, empty for direct
	Attempts int
	Bytes    int64
}

func (r Result) OK() bool { return r.Err == nil }

// Executor issues GETs with retries, rotating away from proxies that fail.
type Executor struct {
	fetcher Fetcher
	pool    ProxySource
	policy  RetryPolicy
	log     zerolog.Logger

	exhausted *rateLimitedLogger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires an executor. pool may be nil, in which case every attempt
// goes direct.
func NewExecutor(fetcher Fetcher, pool ProxySource, policy RetryPolicy, log zerolog.Logger) *Executor {
	if policy.Limit < 1 {
		policy.Limit = 1
	}
	l := withComponent(log, "executor")
	return &Executor{
		fetcher:   fetcher,
		pool:      pool,
		policy:    policy,
		log:       l,
		exhausted: newRateLimitedLogger(l, 30*time.Second),
		sleep:     sleepCtx,
	}
}

func (e *Executor) Execute(ctx context.Context, rawURL string, header http.Header) Result {
	proxy := e.drawProxy()
	var (
		lastErr   error
		lastProxy string
		attempt   int
	)
	for attempt < e.policy.Limit {
		attempt++
		resp, err := e.fetcher.Fetch(ctx, FetchRequest{
			URL:     rawURL,
			Header:  header,
			Proxy:   proxy,
			Timeout: e.policy.Timeout,
		})
		if err == nil {
			return Result{Status: resp.Status, Proxy: proxy, Attempts: attempt, Bytes: resp.Bytes}
		}
		lastErr, lastProxy = err, proxy
		if ctx.Err() != nil {
			break
		}

		if proxy != "" && e.pool != nil {
			backoff := e.policy.deadFor(attempt)
			e.pool.MarkDead(proxy, backoff)
			e.log.Info().
				Str("proxy", proxy).
				Dur("backoff", backoff).
				Err(err).
				Msg("marking proxy dead")
		}
		proxy = e.drawProxy()

		if attempt >= e.policy.Limit {
			break
		}
		if err := e.sleep(ctx, e.policy.retryDelay(attempt)); err != nil {
			break
		}
	}
	return Result{Err: lastErr, Proxy: lastProxy, Attempts: attempt}
}

func (e *Executor) drawProxy() string {
	if e.pool == nil {
		return ""
	}
	p, ok := e.pool.Get()
	if !ok {
		e.exhausted.Warn("no eligible proxy, going direct")
		return ""
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
