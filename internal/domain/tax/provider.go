package tax

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultCacheTTL = 5 * time.Minute

const (
	LookupHit      = "hit"
	LookupMiss     = "miss"
	LookupFallback = "fallback"
)

// Source loads the stored configuration effective at asOf.
type Source interface {
	Latest(ctx context.Context, asOf time.Time) (Configuration, error)
}

// LookupObserver is notified of every provider lookup outcome.
type LookupObserver interface {
	ObserveTaxConfigLookup(outcome string)
}

// Provider hands out configuration snapshots. It caches the last good
// snapshot for the TTL and falls back to DefaultConfiguration when the source
// fails or returns an invalid snapshot; a fetch error never reaches callers.
type Provider struct {
	source   Source
	ttl      time.Duration
	now      func() time.Time
	observer LookupObserver

	mu        sync.Mutex
	cached    *Configuration
	cachedFor time.Time
	fetchedAt time.Time
}

type ProviderOption func(*Provider)

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithObserver(observer LookupObserver) ProviderOption {
	return func(p *Provider) { p.observer = observer }
}

func NewProvider(source Source, opts ...ProviderOption) *Provider {
	p := &Provider{source: source, ttl: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Current returns the configuration effective at asOf. The cache is keyed by
// the period day so a run for an earlier month does not reuse a later snapshot.
func (p *Provider) Current(ctx context.Context, asOf time.Time) Configuration {
	day := truncateDay(asOf)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cached != nil && p.cachedFor.Equal(day) && now.Sub(p.fetchedAt) < p.ttl {
		p.observe(LookupHit)
		return p.cached.Clone()
	}

	if p.source == nil {
		p.observe(LookupFallback)
		return DefaultConfiguration()
	}

	cfg, err := p.source.Latest(ctx, asOf)
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		slog.Warn("tax configuration unavailable, using defaults", "err", err, "asOf", day.Format("2006-01-02"))
		p.observe(LookupFallback)
		return DefaultConfiguration()
	}

	p.observe(LookupMiss)
	snapshot := cfg.Clone()
	p.cached = &snapshot
	p.cachedFor = day
	p.fetchedAt = now
	return snapshot.Clone()
}

// Invalidate drops the cached snapshot, typically after an admin update.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *Provider) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObserveTaxConfigLookup(outcome)
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
