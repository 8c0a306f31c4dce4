// Package forecast adapts an external carbon-intensity forecast HTTP source
// into ForecastSnapshots, with TTL caching and a bounded-latency contract so
// the session evaluator never hangs waiting on it.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ErrUnavailable is returned (and wrapped) whenever the provider cannot
// produce a snapshot: network failure, non-2xx response, parse failure, or
// timeout, with no usable cached data left.
var ErrUnavailable = errors.New("forecast: unavailable")

// Slot is one entry of the provider's near-term schedule.
type Slot struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Forecast float64   `json:"forecast"`
	Index    string    `json:"index,omitempty"`
}

// ExtendedPoint is one entry of the up-to-48h-ahead extended forecast.
type ExtendedPoint struct {
	HorizonHours float64 `json:"horizon_hours"`
	Intensity    float64 `json:"intensity"`
}

// Snapshot is the observation produced by the provider on each sample.
type Snapshot struct {
	IntensityNow  float64         `json:"intensity_now"`
	IntensityNext float64         `json:"intensity_next"`
	Schedule      []Slot          `json:"schedule"`
	Extended      []ExtendedPoint `json:"extended"`
	DemandNow     float64         `json:"demand_now,omitempty"`
	DemandNext    float64         `json:"demand_next,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Degraded      bool            `json:"-"`
}

// Config mirrors the session fields that govern forecast sampling.
type Config struct {
	Target    string
	Timeout   time.Duration
	CacheTTL  time.Duration
	SourceURL string
}

// Provider produces ForecastSnapshots.
type Provider interface {
	Sample(ctx context.Context) (Snapshot, error)
	Configure(cfg Config)
}

// HTTPProvider fetches a provider-specific slot schedule over HTTP and
// parses it into the internal shape, caching the latest good sample for up
// to CacheTTL so transient failures degrade gracefully rather than starving
// the evaluator.
type HTTPProvider struct {
	client *http.Client

	mu        sync.Mutex
	cfg       Config
	cached    Snapshot
	haveCache bool
	cachedAt  time.Time
}

// NewHTTPProvider constructs a provider with the given starting config.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	return &HTTPProvider{client: &http.Client{}, cfg: cfg}
}

// Configure updates target/timeout/cache-ttl/source atomically. An empty
// SourceURL keeps the source the provider already has.
func (p *HTTPProvider) Configure(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.SourceURL == "" {
		cfg.SourceURL = p.cfg.SourceURL
	}
	p.cfg = cfg
}

// providerResponse is the wire shape the upstream forecast source is assumed to
// emit: an ordered list of ~30-minute slots.
type providerResponse struct {
	Slots []struct {
		From     time.Time `json:"from"`
		To       time.Time `json:"to"`
		Forecast float64   `json:"forecast"`
		Index    string    `json:"index"`
	} `json:"slots"`
	Extended []struct {
		HorizonHours float64 `json:"horizonHours"`
		Intensity    float64 `json:"intensity"`
	} `json:"extended"`
	DemandNow  *float64 `json:"demandNow"`
	DemandNext *float64 `json:"demandNext"`
}

// Sample fetches the next-48h forecast, returning a cached sample if it is
// younger than CacheTTL. Never blocks longer than Timeout; any failure or
// non-2xx response falls back to cache, then to ErrUnavailable.
func (p *HTTPProvider) Sample(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	cfg := p.cfg
	if p.haveCache && time.Since(p.cachedAt) < cfg.CacheTTL {
		snap := p.cached
		p.mu.Unlock()
		return snap, nil
	}
	p.mu.Unlock()

	snap, err := p.fetch(ctx, cfg)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.haveCache {
			return p.cached, nil
		}
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p.mu.Lock()
	p.cached = snap
	p.haveCache = true
	p.cachedAt = time.Now()
	p.mu.Unlock()
	return snap, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, cfg Config) (Snapshot, error) {
	if cfg.SourceURL == "" {
		return Snapshot{}, errors.New("no source url configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.SourceURL, nil)
	if err != nil {
		return Snapshot{}, err
	}
	if cfg.Target != "" {
		q := req.URL.Query()
		q.Set("zone", cfg.Target)
		req.URL.RawQuery = q.Encode()
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Snapshot{}, fmt.Errorf("forecast source returned status %d", resp.StatusCode)
	}
	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Snapshot{}, err
	}
	return parseProviderResponse(pr, time.Now())
}

// parseProviderResponse maps the slot schedule into intensity_now/next: the
// slot containing `now` is now, the following slot is next. If only one slot
// is available, next mirrors now and Degraded is set.
func parseProviderResponse(pr providerResponse, now time.Time) (Snapshot, error) {
	slots := make([]Slot, 0, len(pr.Slots))
	for _, s := range pr.Slots {
		slots = append(slots, Slot{From: s.From, To: s.To, Forecast: s.Forecast, Index: s.Index})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].From.Before(slots[j].From) })

	var nowIdx = -1
	for i, s := range slots {
		if !s.From.After(now) && s.To.After(now) {
			nowIdx = i
			break
		}
	}
	if nowIdx == -1 && len(slots) > 0 {
		nowIdx = 0
	}

	snap := Snapshot{Timestamp: now}
	if nowIdx >= 0 {
		snap.IntensityNow = slots[nowIdx].Forecast
		if nowIdx+1 < len(slots) {
			snap.IntensityNext = slots[nowIdx+1].Forecast
		} else {
			snap.IntensityNext = snap.IntensityNow
			snap.Degraded = true
		}
	} else {
		return Snapshot{}, errors.New("forecast source returned no usable slots")
	}
	snap.Schedule = slots

	for _, e := range pr.Extended {
		snap.Extended = append(snap.Extended, ExtendedPoint{HorizonHours: e.HorizonHours, Intensity: e.Intensity})
	}
	sort.Slice(snap.Extended, func(i, j int) bool { return snap.Extended[i].HorizonHours < snap.Extended[j].HorizonHours })

	if pr.DemandNow != nil {
		snap.DemandNow = *pr.DemandNow
	}
	if pr.DemandNext != nil {
		snap.DemandNext = *pr.DemandNext
	}
	return snap, nil
}
