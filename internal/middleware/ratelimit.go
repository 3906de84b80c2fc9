package middleware

import (
	"sync"
	"time"

	"salon_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LimiterPool - набор token-bucket лимитеров по ключу (ID участника).
// Неиспользуемые записи вычищаются фоновым циклом.
type LimiterPool struct {
	mu            sync.Mutex
	m             map[string]*limiterEntry
	rps           rate.Limit
	burst         int
	ttl           time.Duration
	cleanupPeriod time.Duration
	stop          chan struct{}
	once          sync.Once
	stopOnce      sync.Once
}

func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &LimiterPool{
		m:             make(map[string]*limiterEntry),
		rps:           rate.Limit(rps),
		burst:         burst,
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
		stop:          make(chan struct{}),
	}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.once.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.lim
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{lim: l, lastSeen: time.Now()}
	return l
}

func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *LimiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *LimiterPool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *LimiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evict(time.Now())
		case <-p.stop:
			return
		}
	}
}

func (p *LimiterPool) evict(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if now.Sub(e.lastSeen) > p.ttl {
			delete(p.m, k)
		}
	}
}

// RateLimitMiddleware ограничивает запросы по участнику, без участника - по IP.
// onReject может быть nil.
func RateLimitMiddleware(pool *LimiterPool, onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if ident, ok := GetIdentity(c); ok {
			key = ident.ID
		}
		if !pool.Allow(key) {
			if onReject != nil {
				onReject()
			}
			apperrors.HandleError(c, apperrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
