package trafficsim

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProxyChecker probes proxies once before traffic starts.
type ProxyChecker struct {
	TargetURL   string
	Timeout     time.Duration
	Concurrency int

	geo *geoIP
	log zerolog.Logger
}

func NewProxyChecker(targetURL string, timeout time.Duration, concurrency int, log zerolog.Logger) *ProxyChecker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ProxyChecker{
		TargetURL:   targetURL,
		Timeout:     timeout,
		Concurrency: concurrency,
		log:         withComponent(log, "checker"),
	}
}

// Check reports whether a GET to TargetURL through endpoint returns 200.
// Every failure mode, including a malformed endpoint, is just false.
func (c *ProxyChecker) Check(ctx context.Context, endpoint string) bool {
	t, err := newTransport(endpoint)
	if err != nil {
		c.log.Debug().Err(err).Str("proxy", endpoint).Msg("unusable proxy")
		return false
	}
	t.DisableKeepAlives = true
	defer t.CloseIdleConnections()

	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.TargetURL, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Transport: t, Timeout: c.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("proxy", endpoint).Msg("check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CheckAll probes endpoints in parallel and returns the healthy ones in their
// original order.
func (c *ProxyChecker) CheckAll(ctx context.Context, endpoints []string) []string {
	if len(endpoints) == 0 {
		return nil
	}
	c.log.Info().
		Int("count", len(endpoints)).
		Dur("timeout", c.Timeout).
		Int("concurrency", c.Concurrency).
		Msg("checking proxies")

	ok := make([]bool, len(endpoints))
	sem := make(chan struct{}, c.Concurrency)
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ep string) {
			defer wg.Done()
			defer func() { <-sem }()
			ok[i] = c.Check(ctx, ep)
			c.logResult(ep, ok[i])
		}(i, ep)
	}
	wg.Wait()

	var good []string
	for i, ep := range endpoints {
		if ok[i] {
			good = append(good, ep)
		}
	}
	return good
}

func (c *ProxyChecker) logResult(endpoint string, ok bool) {
	if !ok {
		c.log.Info().Str("proxy", endpoint).Msg("BAD")
		return
	}
	ev := c.log.Info().Str("proxy", endpoint)
	if c.geo != nil {
		if u, err := proxyURL(endpoint); err == nil {
			if iso, err := c.geo.Country(u.Hostname()); err == nil && iso != "" {
				ev = ev.Str("country", iso)
			}
		}
	}
	ev.Msg("OK")
}
