package directory

import (
	"net/netip"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// announceLimiter keeps a token bucket per client address. The set of
// buckets is an LRU so address churn cannot grow it without bound.
type announceLimiter struct {
	mu    sync.Mutex
	cache *lru.Cache[netip.Addr, *rate.Limiter]
	limit rate.Limit
	burst int
}

func newAnnounceLimiter(perSecond float64, burst, size int) (*announceLimiter, error) {
	cache, err := lru.New[netip.Addr, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &announceLimiter{
		cache: cache,
		limit: rate.Limit(perSecond),
		burst: burst,
	}, nil
}

// Allow consumes one token for addr. A nil limiter allows everything.
func (l *announceLimiter) Allow(addr netip.Addr) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.cache.Get(addr)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.cache.Add(addr, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *announceLimiter) Len() int {
	if l == nil {
		return 0
	}
	return l.cache.Len()
}
