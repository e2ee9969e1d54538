package trafficsim

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

type FetchRequest struct {
	URL     string
	Header  http.Header
	Proxy   string // empty means direct
	Timeout time.Duration
}

type FetchResponse struct {
	Status int
	Bytes  int64
}

// Fetcher performs a single GET. Any HTTP response, whatever its status, is
// a success; only transport-level failures are returned as errors.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// NewFetcher picks the transport named by request.transport.
func NewFetcher(cfg Config) (Fetcher, error) {
	switch cfg.Request.Transport {
	case TransportHTTP, "":
		return newHTTPFetcher(cfg.Request.maxBody), nil
	case TransportBrowser:
		return newBrowserFetcher(cfg.Request.maxBody), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Request.Transport)
	}
}

// transportCache keeps one http.Transport per proxy endpoint so keep-alive
// connections are reused across page views.
type transportCache struct {
	mu         sync.Mutex
	transports map[string]*http.Transport
}

func newTransportCache() *transportCache {
	return &transportCache{transports: map[string]*http.Transport{}}
}

func (c *transportCache) get(endpoint string) (*http.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transports[endpoint]; ok {
		return t, nil
	}
	t, err := newTransport(endpoint)
	if err != nil {
		return nil, err
	}
	c.transports[endpoint] = t
	return t, nil
}

func (c *transportCache) closeIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.transports {
		t.CloseIdleConnections()
	}
}

func newTransport(endpoint string) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if endpoint == "" {
		return t, nil
	}

	u, err := proxyURL(endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", endpoint, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", endpoint)
		}
		t.DialContext = cd.DialContext
	default:
		t.Proxy = http.ProxyURL(u)
	}
	return t, nil
}

type httpFetcher struct {
	maxBody    int64
	transports *transportCache
}

func newHTTPFetcher(maxBody int64) *httpFetcher {
	return &httpFetcher{maxBody: maxBody, transports: newTransportCache()}
}

func (f *httpFetcher) Fetch(ctx context.Context, fr FetchRequest) (FetchResponse, error) {
	t, err := f.transports.get(fr.Proxy)
	if err != nil {
		return FetchResponse{}, err
	}
	if fr.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fr.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.URL, nil)
	if err != nil {
		return FetchResponse{}, err
	}
	copyHeaders(req.Header, fr.Header)

	client := &http.Client{Transport: t}
	resp, err := client.Do(req)
	if err != nil {
		return FetchResponse{}, err
	}
	defer resp.Body.Close()

	// Drain up to the cap so the connection can be reused.
	var n int64
	if f.maxBody > 0 {
		n, err = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBody))
		if err != nil {
			return FetchResponse{}, fmt.Errorf("read body: %w", err)
		}
	}
	return FetchResponse{Status: resp.StatusCode, Bytes: n}, nil
}

func (f *httpFetcher) Close() error {
	f.transports.closeIdle()
	return nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
