// Package ratelimit throttles API clients with one token bucket per client and endpoint.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Info contains information about rate limit status.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	burst    int
	lastSeen time.Time
}

// Limiter manages rate limiting for multiple clients.
type Limiter struct {
	config *Config
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = time.Hour
	}

	l := &Limiter{
		config:  config,
		now:     time.Now,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if config.Enabled && config.CleanupInterval > 0 {
		go l.cleanup(config.CleanupInterval)
	}
	return l
}

// Allow checks if a request from the given client is allowed for the specified endpoint.
// Returns true if allowed, false if rate limited, along with rate limit information.
func (l *Limiter) Allow(clientID string, endpoint string, method string) (bool, Info) {
	if !l.config.Enabled || l.config.Whitelist[clientID] {
		return true, Info{Allowed: true}
	}
	if l.config.Blacklist[clientID] {
		return false, Info{}
	}

	ep := MatchEndpoint(endpoint, method, l.config.EndpointConfigs)
	if ep == nil {
		ep = &EndpointConfig{
			Path:   endpoint,
			Limit:  l.config.DefaultLimit,
			Window: l.config.DefaultWindow,
		}
	}
	if ep.Limit <= 0 || ep.Window <= 0 {
		return true, Info{Allowed: true}
	}

	now := l.now()
	e := l.entry(clientID+":"+method+":"+ep.Path, ep, now)

	info := Info{Limit: ep.Limit}
	r := e.limiter.ReserveN(now, 1)
	switch delay := r.DelayFrom(now); {
	case !r.OK():
		info.RetryAfter = ep.Window
	case delay > 0:
		r.CancelAt(now)
		info.RetryAfter = delay
	default:
		info.Allowed = true
	}

	tokens := e.limiter.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	info.Remaining = int(tokens)
	missing := float64(e.burst) - tokens
	info.ResetTime = now.Add(time.Duration(missing / float64(e.limiter.Limit()) * float64(time.Second)))
	return info.Allowed, info
}

func (l *Limiter) entry(key string, ep *EndpointConfig, now time.Time) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		burst := ep.Burst
		if burst <= 0 {
			burst = ep.Limit
		}
		e = &entry{
			limiter: rate.NewLimiter(rate.Every(ep.Window/time.Duration(ep.Limit)), burst),
			burst:   burst,
		}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e
}

func (l *Limiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle drops client limiters unused for longer than IdleTTL.
func (l *Limiter) evictIdle() int {
	cutoff := l.now().Add(-l.config.IdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
