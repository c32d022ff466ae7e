package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

type bucket struct {
	tokens   float64
	lastTime time.Time
	rps      float64
	burst    int
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * b.rps
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
	b.lastTime = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter applies token-bucket limits per client IP and, when the request
// names one, per experiment participant.
type Limiter struct {
	mu sync.Mutex

	ipBuckets   map[string]*bucket
	userBuckets map[string]*bucket

	ipRPS     float64
	ipBurst   int
	userRPS   float64
	userBurst int

	rejected atomic.Int64
	stopCh   chan struct{}
}

func NewLimiter(ipRPS float64, ipBurst int, userRPS float64, userBurst int) *Limiter {
	l := &Limiter{
		ipBuckets:   make(map[string]*bucket),
		userBuckets: make(map[string]*bucket),
		ipRPS:       ipRPS,
		ipBurst:     ipBurst,
		userRPS:     userRPS,
		userBurst:   userBurst,
		stopCh:      make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) Allow(clientIP, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	// Check IP bucket
	ib, ok := l.ipBuckets[clientIP]
	if !ok {
		ib = &bucket{tokens: float64(l.ipBurst), lastTime: now, rps: l.ipRPS, burst: l.ipBurst}
		l.ipBuckets[clientIP] = ib
	}
	if !ib.allow(now) {
		l.rejected.Add(1)
		return false
	}

	// Check per-user bucket if a participant id is present
	if userID != "" {
		ub, ok := l.userBuckets[userID]
		if !ok {
			ub = &bucket{tokens: float64(l.userBurst), lastTime: now, rps: l.userRPS, burst: l.userBurst}
			l.userBuckets[userID] = ub
		}
		if !ub.allow(now) {
			l.rejected.Add(1)
			return false
		}
	}

	return true
}

func (l *Limiter) Status() map[string]interface{} {
	l.mu.Lock()
	ipCount := len(l.ipBuckets)
	userCount := len(l.userBuckets)
	l.mu.Unlock()

	return map[string]interface{}{
		"active_ip_limiters":   ipCount,
		"active_user_limiters": userCount,
		"total_rejected":       l.rejected.Load(),
		"ip_rps":               l.ipRPS,
		"ip_burst":             l.ipBurst,
		"per_user_rps":         l.userRPS,
		"per_user_burst":       l.userBurst,
	}
}

func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for ip, b := range l.ipBuckets {
				if now.Sub(b.lastTime) > 5*time.Minute {
					delete(l.ipBuckets, ip)
				}
			}
			for user, b := range l.userBuckets {
				if now.Sub(b.lastTime) > 5*time.Minute {
					delete(l.userBuckets, user)
				}
			}
			l.mu.Unlock()
		}
	}
}
