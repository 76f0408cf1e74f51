package httpmiddleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	Max    int           `default:"100"`
	Window time.Duration `default:"1m"`
	// KeyFunc defaults to the client IP.
	KeyFunc func(c echo.Context) string `json:"-" yaml:"-"`
}

type window struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

type limiter struct {
	max     int
	span    time.Duration
	keyFunc func(echo.Context) string
	now     func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c echo.Context) string { return c.RealIP() }
	}
	return &limiter{
		max:     cfg.Max,
		span:    cfg.Window,
		keyFunc: keyFunc,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// allow counts one request for key. The previous window is weighted by its
// overlap with the sliding window ending at now.
func (l *limiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &window{currStart: now}
		l.windows[key] = w
	}

	if now.Sub(w.currStart) >= l.span {
		w.prevCount, w.prevStart = w.currCount, w.currStart
		w.currCount = 0
		w.currStart = now.Truncate(l.span)
		if now.Sub(w.prevStart) >= 2*l.span {
			w.prevCount = 0
		}
	}

	overlap := 1 - now.Sub(w.currStart).Seconds()/l.span.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	count := w.prevCount*overlap + w.currCount
	resetAt = w.currStart.Add(l.span)

	if count >= float64(l.max) {
		return 0, resetAt, false
	}
	w.currCount++
	remaining = max(int(float64(l.max)-count-1), 0)
	return remaining, resetAt, true
}

func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.currStart) >= 2*l.span {
			delete(l.windows, key)
		}
	}
}

// RateLimit enforces a per-key sliding window limit and answers 429 when it
// is exceeded. Stale keys are evicted every two windows until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * l.span)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evict(now)
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		remaining, resetAt, ok := l.allow(l.keyFunc(c), l.now())

		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !ok {
			retry := max(resetAt.Sub(l.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"code":    http.StatusTooManyRequests,
				"error":   "rate_limited",
				"message": "rate limit exceeded",
			})
		}
		return next(c)
	}
}
