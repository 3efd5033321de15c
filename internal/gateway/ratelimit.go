// Package gateway holds the per-client request limiter in front of the HTTP facade.
package gateway

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

// ClientLimiter keeps one token bucket per client address. Buckets idle
// for longer than ten minutes are dropped.
type ClientLimiter struct {
	perSec rate.Limit
	burst  int

	buckets sync.Map // client -> *bucket

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens *rate.Limiter
	seen   atomic.Int64
}

// NewClientLimiter allows rpm requests per minute per client with the given
// burst. rpm <= 0 disables limiting.
func NewClientLimiter(rpm, burst int) *ClientLimiter {
	if burst <= 0 {
		burst = 5
	}
	l := &ClientLimiter{burst: burst, stop: make(chan struct{})}
	if rpm > 0 {
		l.perSec = rate.Every(time.Minute / time.Duration(rpm))
		go l.sweepLoop()
	}
	return l
}

func (l *ClientLimiter) Enabled() bool { return l.perSec > 0 }

// Allow takes a token from client's bucket.
func (l *ClientLimiter) Allow(client string) bool {
	if !l.Enabled() {
		return true
	}
	b := l.bucketFor(client)
	b.seen.Store(time.Now().UnixNano())
	if b.tokens.Allow() {
		return true
	}
	slog.Warn("security.rate_limited", "client", client)
	return false
}

func (l *ClientLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *ClientLimiter) bucketFor(client string) *bucket {
	if v, ok := l.buckets.Load(client); ok {
		return v.(*bucket)
	}
	fresh := &bucket{tokens: rate.NewLimiter(l.perSec, l.burst)}
	v, _ := l.buckets.LoadOrStore(client, fresh)
	return v.(*bucket)
}

func (l *ClientLimiter) sweepLoop() {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-t.C:
			l.sweep(now.Add(-idleAfter))
		}
	}
}

// sweep forgets clients not seen since cutoff.
func (l *ClientLimiter) sweep(cutoff time.Time) {
	oldest := cutoff.UnixNano()
	l.buckets.Range(func(k, v any) bool {
		if v.(*bucket).seen.Load() < oldest {
			l.buckets.Delete(k)
		}
		return true
	})
}

// ClientIP returns the address used as the rate-limit key. Forwarded
// headers are honoured only when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
