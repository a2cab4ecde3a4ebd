package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server/metrics"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. Clients idle for a
// full window are forgotten: their bucket would be full again anyway.
type RateLimiter struct {
	requests int
	window   time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing cfg.Requests per cfg.Window
// for each client. m may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	if cfg.Requests < 1 {
		cfg.Requests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &RateLimiter{
		requests: cfg.Requests,
		window:   cfg.Window,
		metrics:  m,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
	l.lastSweep = l.now()
	return l
}

func (l *RateLimiter) getOrCreate(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}

	v, exists := l.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.requests)), l.requests)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// sweep drops clients idle for at least one window. Callers hold l.mu.
func (l *RateLimiter) sweep(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.window {
			delete(l.visitors, ip)
		}
	}
	l.lastSweep = now
}

// Reset forgets every client.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visitors = make(map[string]*visitor)
}

// Handler rejects requests over the limit with 429 and the standard
// failure body.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.getOrCreate(clientIP(r)).Allow() {
			if l.metrics != nil {
				l.metrics.RateLimitHits.WithLabelValues(routePattern(r)).Inc()
			}
			errors.WriteError(w, errors.NewRateLimitError(l.requests, l.window.String()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
