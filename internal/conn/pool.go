// Pool rotates through a fixed list of proxy URLs using an atomic counter,
// so concurrent callers spread evenly across the configured proxies
// without needing a lock.
package conn

import (
	"net/url"
	"sync/atomic"
)

// Pool rotates through a fixed list of SOCKS5 proxy URLs. A Pool with no
// proxies configured always returns nil, meaning "dial direct".
type Pool struct {
	proxies []*url.URL
	counter uint64
}

// NewPool parses rawURLs (skipping empty entries) into a rotation pool.
// Malformed entries are skipped rather than failing the whole pool, since a
// single bad proxy in an operator-supplied list should not disable the
// others.
func NewPool(rawURLs []string) *Pool {
	p := &Pool{}
	for _, raw := range rawURLs {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		p.proxies = append(p.proxies, u)
	}
	return p
}

// Next returns the next proxy URL in rotation, or nil if the pool is empty.
func (p *Pool) Next() *url.URL {
	if p == nil || len(p.proxies) == 0 {
		return nil
	}
	n := atomic.AddUint64(&p.counter, 1)
	return p.proxies[(n-1)%uint64(len(p.proxies))]
}

// Enabled reports whether the pool has at least one proxy configured.
func (p *Pool) Enabled() bool {
	return p != nil && len(p.proxies) > 0
}
