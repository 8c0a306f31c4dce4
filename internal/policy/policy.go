// Package policy implements the pluggable carbon-aware scheduling policies.
// Each policy is a pure function of (flavour snapshot, forecast-or-none,
// ledger state) to a PolicyResult; policies never mutate shared state.
package policy

import (
	"time"

	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/99souls/carbonscheduler/internal/forecast"
)

const epsilon = 1e-6

// Names of the four mandated policies.
const (
	PrecisionTier       = "precision-tier"
	CreditGreedy        = "credit-greedy"
	ForecastAware       = "forecast-aware"
	ForecastAwareGlobal = "forecast-aware-global"
)

// Result is one policy evaluation's output.
type Result struct {
	Name              string             `json:"name"`
	Weights           map[string]float64 `json:"weights"`
	ExpectedPrecision float64            `json:"expected_precision"`
	Diagnostics       map[string]float64 `json:"diagnostics"`
}

// LedgerView is the subset of ledger state a policy consumes.
type LedgerView struct {
	Balance   float64
	Min       float64
	Max       float64
	Allowance float64
}

// DemandView is the subset of demand state a policy consumes.
type DemandView struct {
	Now  float64
	Next float64
}

// Context bundles every signal a policy may fuse into a decision.
type Context struct {
	Flavours                []flavour.Profile // enabled, any order
	Forecast                *forecast.Snapshot
	Ledger                  LedgerView
	Demand                  DemandView
	CumulativeEmissionsGCO2 float64
	RequestCount            int64
	IntensityReference      float64 // median intensity_now over the observation window
	Now                     time.Time

	// Tunables, defaulted by the session from configuration.
	TrendCap   float64 // forecast-aware short-term trend cap, default 0.3
	TrendScale float64 // forecast-aware short-term trend scale, default 0.5
}

// Policy is a pure (ctx) -> Result evaluator.
type Policy interface {
	Name() string
	Evaluate(ctx Context) Result
}

// Set holds the four mandated policies by name.
type Set struct {
	policies map[string]Policy
}

// NewSet constructs the mandated policy set.
func NewSet() *Set {
	s := &Set{policies: make(map[string]Policy)}
	s.register(precisionTierPolicy{})
	s.register(creditGreedyPolicy{})
	s.register(forecastAwarePolicy{})
	s.register(forecastAwareGlobalPolicy{})
	return s
}

func (s *Set) register(p Policy) { s.policies[p.Name()] = p }

// Get returns the named policy and whether it is known.
func (s *Set) Get(name string) (Policy, bool) {
	p, ok := s.policies[name]
	return p, ok
}

// Evaluate runs the named policy, falling back through the static chain when
// a policy's prerequisites are unmet (no baseline flavour is never a policy
// concern: the session never calls Evaluate with an empty flavour set).
func (s *Set) Evaluate(name string, ctx Context) Result {
	policy, ok := s.policies[name]
	if !ok {
		policy = s.policies[PrecisionTier]
	}
	res := policy.Evaluate(ctx)
	return res
}

func normalise(weights map[string]float64) map[string]float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return weights
	}
	out := make(map[string]float64, len(weights))
	for k, w := range weights {
		out[k] = w / sum
	}
	return out
}

func expectedPrecision(flavours []flavour.Profile, weights map[string]float64) float64 {
	sum := 0.0
	for _, f := range flavours {
		sum += weights[f.Name] * f.Precision
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func withFallback(diag map[string]float64) map[string]float64 {
	if diag == nil {
		diag = make(map[string]float64)
	}
	diag["policy_fallback"] = 1
	return diag
}
