package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/logger"
)

// 握手限流桶的清理参数
const (
	limiterCleanupInterval = time.Minute
	limiterBucketExpiry    = 10 * time.Minute
)

// tokenBucket 令牌桶
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64
	lastRefill time.Time
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

// handshakeLimiter 按客户端 IP 限制握手频率
type handshakeLimiter struct {
	rate  float64
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func newHandshakeLimiter(rate float64, burst int) *handshakeLimiter {
	if burst < 1 {
		burst = 1
	}
	return &handshakeLimiter{
		rate:    rate,
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

func (l *handshakeLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(l.burst), burst: float64(l.burst), rate: l.rate, lastRefill: now}
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.allow(now)
}

// cleanup 移除长时间未使用的桶
func (l *handshakeLimiter) cleanup(expiry time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.idleSince(now) > expiry {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

func (l *handshakeLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// run 定期清理直到 done 关闭
func (l *handshakeLimiter) run(done <-chan struct{}) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup(limiterBucketExpiry)
		case <-done:
			return
		}
	}
}

// middleware 超出频率的握手返回 429
func (l *handshakeLimiter) middleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.allow(ip) {
			log.Warn("Handshake rate limit exceeded",
				zap.String("ip", ip),
				zap.Float64("rate", l.rate),
			)
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
