package transport

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexusroom/server/internal/config"
)

// ipLimiterEntry tracks per-IP connect-rate state, cleaned up on a timer
// so abandoned IPs don't leak memory.
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// connectLimiter throttles new WebSocket upgrade attempts per source IP,
// independent of the per-connection message limiter applied after a
// connection is established.
type connectLimiter struct {
	mu       sync.Mutex
	entries  map[string]*ipLimiterEntry
	perMin   int
	stopOnce sync.Once
	stop     chan struct{}
}

func newConnectLimiter(cfg config.RateLimitConfig) *connectLimiter {
	l := &connectLimiter{
		entries: make(map[string]*ipLimiterEntry),
		perMin:  cfg.ConnectsPerMinute,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *connectLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for ip, e := range l.entries {
				if e.lastSeen.Before(cutoff) {
					delete(l.entries, ip)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

func (l *connectLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *connectLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		e = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)}
		l.entries[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// Middleware rejects upgrade attempts past the configured per-IP connect
// rate with 429, before the handshake does any real work.
func (l *connectLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
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
