package trafficsim

import (
	"math/rand/v2"
	"sync"
	"time"
)

// ProxyPool hands out proxies that are not currently backing off. Dead
// proxies revive lazily: an entry whose deadline has passed is simply
// eligible again on the next Get.
type ProxyPool struct {
	members []string
	now     func() time.Time

	mu        sync.Mutex
	deadUntil map[string]time.Time
}

// NewProxyPool builds a pool with fixed membership. Empty and duplicate
// endpoints are dropped; order is preserved.
func NewProxyPool(endpoints []string) *ProxyPool {
	return newProxyPoolWithClock(endpoints, time.Now)
}

func newProxyPoolWithClock(endpoints []string, now func() time.Time) *ProxyPool {
	seen := make(map[string]struct{}, len(endpoints))
	members := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		members = append(members, e)
	}
	return &ProxyPool{
		members:   members,
		now:       now,
		deadUntil: make(map[string]time.Time),
	}
}

// Get returns a random eligible proxy, or false when every member is
// backing off.
func (p *ProxyPool) Get() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	eligible := p.eligibleLocked()
	if len(eligible) == 0 {
		return "", false
	}
	return eligible[rand.IntN(len(eligible))], true
}

// MarkDead keeps endpoint out of rotation for backoff. A later call can only
// push the recovery time further out.
func (p *ProxyPool) MarkDead(endpoint string, backoff time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := p.now().Add(backoff)
	if cur, ok := p.deadUntil[endpoint]; ok && cur.After(until) {
		return
	}
	p.deadUntil[endpoint] = until
}

func (p *ProxyPool) Size() int { return len(p.members) }

func (p *ProxyPool) EligibleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.eligibleLocked())
}

func (p *ProxyPool) eligibleLocked() []string {
	now := p.now()
	out := make([]string, 0, len(p.members))
	for _, m := range p.members {
		if until, dead := p.deadUntil[m]; dead && until.After(now) {
			continue
		}
		out = append(out, m)
	}
	return out
}
