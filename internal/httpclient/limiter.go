package httpclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxPerDomain caps concurrent requests to one host
const DefaultMaxPerDomain = 5

// LimiterOption configures a DomainLimiter
type LimiterOption func(*DomainLimiter)

// WithMaxPerDomain sets the per-host concurrency cap
func WithMaxPerDomain(n int) LimiterOption {
	return func(l *DomainLimiter) {
		if n > 0 {
			l.maxPerDomain = int64(n)
		}
	}
}

// WithRequestRate additionally limits each host to perSecond requests with the given burst
func WithRequestRate(perSecond float64, burst int) LimiterOption {
	return func(l *DomainLimiter) {
		if perSecond > 0 {
			l.rate = rate.Limit(perSecond)
			l.burst = max(burst, 1)
		}
	}
}

// DomainLimiter limits concurrent requests per host. Slots are created lazily
// on first use of a host and reused thereafter. It is safe for concurrent use.
type DomainLimiter struct {
	mu           sync.Mutex
	maxPerDomain int64
	rate         rate.Limit
	burst        int
	domains      map[string]*domainSlot
}

type domainSlot struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewDomainLimiter creates a limiter with DefaultMaxPerDomain slots per host
func NewDomainLimiter(opts ...LimiterOption) *DomainLimiter {
	l := &DomainLimiter{
		maxPerDomain: DefaultMaxPerDomain,
		rate:         rate.Inf,
		domains:      make(map[string]*domainSlot),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a slot for the URL's host is free. The returned release
// function must be called exactly once; extra calls are ignored.
func (l *DomainLimiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, err
	}
	slot := l.slot(domain)

	if err := slot.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { slot.sem.Release(1) })
	}, nil
}

func (l *DomainLimiter) slot(domain string) *domainSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.domains[domain]
	if !ok {
		s = &domainSlot{
			sem:     semaphore.NewWeighted(l.maxPerDomain),
			limiter: rate.NewLimiter(l.rate, l.burst),
		}
		l.domains[domain] = s
	}
	return s
}

func domainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	return strings.ToLower(u.Host), nil
}
