package trafficsim

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newForwardProxy answers every proxied request itself with status and
// counts the absolute URLs it was asked for.
func newForwardProxy(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "proxied "+r.URL.String())
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func endpointOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// closedPort returns an address nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestChecker() *ProxyChecker {
	return NewProxyChecker("http://check.test/get", 2*time.Second, 4, zerolog.New(io.Discard))
}

func TestProxyChecker_Check(t *testing.T) {
	ok, hits := newForwardProxy(t, http.StatusOK)
	forbidden, _ := newForwardProxy(t, http.StatusForbidden)
	c := newTestChecker()

	assert.True(t, c.Check(context.Background(), endpointOf(ok)))
	assert.Equal(t, int32(1), hits.Load())

	assert.True(t, c.Check(context.Background(), "http://"+endpointOf(ok)), "explicit scheme is accepted")
	assert.False(t, c.Check(context.Background(), endpointOf(forbidden)), "only 200 counts as healthy")
	assert.False(t, c.Check(context.Background(), closedPort(t)))
	assert.False(t, c.Check(context.Background(), "ftp://127.0.0.1:21"))
}

func TestProxyChecker_CheckTimesOut(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	c := NewProxyChecker("http://check.test/get", 100*time.Millisecond, 1, zerolog.New(io.Discard))
	start := time.Now()
	assert.False(t, c.Check(context.Background(), endpointOf(slow)))
	assert.Less(t, time.Since(start), time.Second)
}

func TestProxyChecker_CheckAllKeepsOrder(t *testing.T) {
	a, _ := newForwardProxy(t, http.StatusOK)
	b, _ := newForwardProxy(t, http.StatusBadGateway)
	c, _ := newForwardProxy(t, http.StatusOK)
	dead := closedPort(t)

	in := []string{endpointOf(c), dead, endpointOf(b), endpointOf(a)}
	got := newTestChecker().CheckAll(context.Background(), in)

	assert.Equal(t, []string{endpointOf(c), endpointOf(a)}, got)
}

func TestProxyChecker_CheckAllEmpty(t *testing.T) {
	assert.Nil(t, newTestChecker().CheckAll(context.Background(), nil))
}
