// Package registry implements the SchedulerRegistry: operations serialised
// per (namespace, name) key but concurrent across keys, the way the
// teacher's resource manager shards per-domain state behind per-key locks
// rather than one registry-wide mutex.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/99souls/carbonscheduler/internal/forecast"
	"github.com/99souls/carbonscheduler/internal/schedule"
	"github.com/99souls/carbonscheduler/internal/session"
	"github.com/99souls/carbonscheduler/internal/telemetry/health"
	"github.com/99souls/carbonscheduler/internal/telemetry/logging"
	"github.com/99souls/carbonscheduler/internal/telemetry/metrics"
)

// ErrNotFound is returned by Get/Remove for an unknown key.
var ErrNotFound = errors.New("registry: session not found")

type key struct{ namespace, name string }

// Registry holds every live scheduler session keyed by (namespace, name).
type Registry struct {
	recorder    *metrics.Recorder
	logger      logging.Logger
	forecastURL string

	mu       sync.RWMutex
	keyLocks map[key]*sync.Mutex
	sessions map[key]*session.Session
}

// New constructs an empty registry. forecastURL is the shared upstream
// forecast source every session's provider is configured against.
func New(recorder *metrics.Recorder, logger logging.Logger, forecastURL string) *Registry {
	return &Registry{
		recorder:    recorder,
		logger:      logger,
		forecastURL: forecastURL,
		keyLocks:    make(map[key]*sync.Mutex),
		sessions:    make(map[key]*session.Session),
	}
}

func (r *Registry) lockFor(k key) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLocks[k]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[k] = l
	}
	return l
}

// UpdateConfig creates a session if missing, then applies cfg. Per-key
// serialised; concurrent calls for distinct keys never block each other.
func (r *Registry) UpdateConfig(namespace, name string, cfg session.Config) {
	k := key{namespace, name}
	l := r.lockFor(k)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	s, ok := r.sessions[k]
	r.mu.RUnlock()

	if !ok {
		provider := forecast.NewHTTPProvider(forecast.Config{
			Target:    cfg.CarbonTarget,
			Timeout:   cfg.CarbonTimeout,
			CacheTTL:  cfg.CarbonCacheTTL,
			SourceURL: r.forecastURL,
		})
		s = session.New(namespace, name, cfg, provider, r.recorder, r.logger)
		r.mu.Lock()
		r.sessions[k] = s
		r.mu.Unlock()
		return
	}
	s.Configure(cfg)
}

// Get returns the session for (namespace, name), or ErrNotFound.
func (r *Registry) Get(namespace, name string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key{namespace, name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, name)
	}
	return s, nil
}

// Remove stops and drops the session for (namespace, name).
func (r *Registry) Remove(namespace, name string) error {
	k := key{namespace, name}
	l := r.lockFor(k)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	s, ok := r.sessions[k]
	if ok {
		delete(r.sessions, k)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, name)
	}
	s.Close()
	return nil
}

// Latest returns the snapshot for (namespace, name): the snapshot itself,
// whether it is pending (no evaluation yet), and whether the key is known.
func (r *Registry) Latest(namespace, name string) (snap schedule.Snapshot, pending bool, found bool) {
	s, err := r.Get(namespace, name)
	if err != nil {
		return schedule.Snapshot{}, false, false
	}
	snap, pending = s.Latest()
	return snap, pending, true
}

// Override installs a manual override for (namespace, name).
func (r *Registry) Override(namespace, name string, weights map[string]int, validUntil time.Time) error {
	s, err := r.Get(namespace, name)
	if err != nil {
		return err
	}
	return s.Override(weights, validUntil)
}

// Probe reports Unhealthy if any live session has flipped its
// evaluator_unhealthy readiness bit after two consecutive TransientInternal
// failures, backing the health.Evaluator rollup behind /healthz.
func (r *Registry) Probe(ctx context.Context) health.ProbeResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, s := range r.sessions {
		if s.Unhealthy() {
			return health.Unhealthy("registry", fmt.Sprintf("%s/%s evaluator unhealthy", k.namespace, k.name))
		}
	}
	return health.Healthy("registry")
}

// CloseAll stops every live session; used on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}
}
