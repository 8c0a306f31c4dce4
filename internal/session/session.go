// Package session implements the per-(namespace,name) scheduler session: a
// cooperative background evaluator that atomically publishes
// schedule.Snapshot values, the way the teacher's Engine facade publishes
// Snapshot values behind an atomic exchange with no reader-side locking.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/99souls/carbonscheduler/internal/demand"
	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/99souls/carbonscheduler/internal/forecast"
	"github.com/99souls/carbonscheduler/internal/ledger"
	"github.com/99souls/carbonscheduler/internal/policy"
	"github.com/99souls/carbonscheduler/internal/schedule"
	"github.com/99souls/carbonscheduler/internal/telemetry/logging"
	"github.com/99souls/carbonscheduler/internal/telemetry/metrics"
	"github.com/99souls/carbonscheduler/internal/telemetry/tracing"
)

const (
	evalIntervalCap = 15 * time.Second
	evalSlack       = 2 * time.Second
	throttleMin     = 0.2
	throttleBeta    = 0.5
	intensityFloor  = 150.0
	intensityCeil   = 350.0
)

// ErrNotFound is a not-found sentinel for this package. Session never returns
// it, and the registry reports unknown keys with its own registry.ErrNotFound.
var ErrNotFound = fmt.Errorf("session: not found")

// overrideEntry is the manual override installed by POST .../manual.
type overrideEntry struct {
	snapshot schedule.Snapshot
	expires  time.Time
}

// Session owns one scheduler's evaluator loop, ledger, demand estimator,
// flavour registry and forecast provider, and publishes ScheduleSnapshots
// for concurrent lock-free reads.
type Session struct {
	namespace, name string

	mu     sync.Mutex
	cfg    Config
	closed bool
	cancel context.CancelFunc
	doneCh chan struct{}

	flavours        *flavour.Registry
	ledger          *ledger.CreditLedger
	demand          *demand.Estimator
	forecastSrc     forecast.Provider
	policies        *policy.Set
	intensityWindow *policy.IntensityWindow

	recorder *metrics.Recorder
	logger   logging.Logger
	tracer   tracing.Tracer

	snapshot atomic.Pointer[schedule.Snapshot]
	override atomic.Pointer[overrideEntry]

	// touched only by the evaluator goroutine; no lock needed.
	cumulativeEmissionsGCO2 float64
	requestCount            int64
	prevThrottle            float64
	haveThrottle            bool
	consecutiveFailures     int

	unhealthy atomic.Bool
}

// New constructs a session and starts its evaluator loop.
func New(namespace, name string, cfg Config, forecastSrc forecast.Provider, recorder *metrics.Recorder, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewFromLevel("INFO")
	}
	s := &Session{
		namespace:       namespace,
		name:            name,
		cfg:             cfg,
		flavours:        flavour.New(),
		ledger:          ledger.New(ledgerConfig(cfg)),
		demand:          demand.New(60),
		forecastSrc:     forecastSrc,
		policies:        policy.NewSet(),
		intensityWindow: policy.NewIntensityWindow(creditWindowDuration(cfg)),
		recorder:        recorder,
		logger:          logger,
		tracer:          tracing.New("carbonscheduler/session"),
		doneCh:          make(chan struct{}),
	}
	if len(cfg.Flavours) > 0 {
		_ = s.flavours.Replace(cfg.Flavours)
	}
	if forecastSrc != nil {
		forecastSrc.Configure(forecast.Config{
			Target:    cfg.CarbonTarget,
			Timeout:   cfg.CarbonTimeout,
			CacheTTL:  cfg.CarbonCacheTTL,
			SourceURL: "",
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.runEvalLoop(ctx)
	return s
}

func ledgerConfig(cfg Config) ledger.Config {
	return ledger.Config{
		TargetError: cfg.TargetError,
		Min:         cfg.CreditMin,
		Max:         cfg.CreditMax,
		WindowSec:   cfg.CreditWindow,
		Sensitivity: 1.0,
	}
}

// creditWindowDuration mirrors credit_window (seconds) into the duration the
// intensity reference window uses, so the two stay in lockstep per §4.5.2.
func creditWindowDuration(cfg Config) time.Duration {
	return time.Duration(cfg.CreditWindow * float64(time.Second))
}

// Configure applies an already-validated, already-merged Config: idempotent,
// applying the same Config twice leaves the session observably unchanged.
func (s *Session) Configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.ledger.Reconfigure(ledgerConfig(cfg))
	s.intensityWindow.Resize(creditWindowDuration(cfg))
	if len(cfg.Flavours) > 0 {
		_ = s.flavours.Replace(cfg.Flavours)
	}
	if s.forecastSrc != nil {
		s.forecastSrc.Configure(forecast.Config{
			Target:   cfg.CarbonTarget,
			Timeout:  cfg.CarbonTimeout,
			CacheTTL: cfg.CarbonCacheTTL,
		})
	}
}

// ValidFor returns the session's currently configured snapshot validity
// window, used as the default expiry for a manual override that omits one.
func (s *Session) ValidFor() time.Duration {
	return s.currentConfig().ValidFor
}

func (s *Session) currentConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RecordRequest feeds one (timestamp, count) sample into the demand estimator.
func (s *Session) RecordRequest(at time.Time, count float64) {
	s.demand.Record(at, count)
}

// Latest returns the current published snapshot, or pending=true if no
// evaluation (and no override) has published one yet.
func (s *Session) Latest() (schedule.Snapshot, bool) {
	if entry := s.override.Load(); entry != nil && time.Now().Before(entry.expires) {
		return entry.snapshot, false
	}
	p := s.snapshot.Load()
	if p == nil {
		return schedule.Snapshot{}, true
	}
	return *p, false
}

// Override installs a manual snapshot that suppresses automatic evaluation
// until it expires. validUntil in the past is rejected, leaving any existing
// snapshot/override untouched.
func (s *Session) Override(weights map[string]int, validUntil time.Time) error {
	now := time.Now()
	if !validUntil.After(now) {
		return fmt.Errorf("%w: validUntil must be in the future", ErrValidation)
	}
	cfg := s.currentConfig()
	flavours := s.flavours.Snapshot()

	views := make([]schedule.FlavourView, 0, len(flavours))
	for _, f := range flavours {
		views = append(views, schedule.FlavourView{Name: f.Name, Precision: f.Precision * 100, Weight: float64(weights[f.Name])})
	}

	snap := schedule.Snapshot{
		FlavourWeights: weights,
		Flavours:       views,
		Policy:         schedule.PolicyView{Name: cfg.Policy},
		Credits:        toCredits(s.ledger.Snapshot()),
		Diagnostics:    map[string]float64{},
		ValidUntil:     validUntil,
		Manual:         true,
	}
	s.override.Store(&overrideEntry{snapshot: snap, expires: validUntil})
	return nil
}

// Close stops the evaluator loop. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	<-s.doneCh
}

func (s *Session) runEvalLoop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		s.evaluateOnce(ctx)

		interval := evalInterval(s.currentConfig().ValidFor)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func evalInterval(validFor time.Duration) time.Duration {
	iv := validFor - evalSlack
	if iv > evalIntervalCap {
		iv = evalIntervalCap
	}
	if iv < time.Second {
		iv = time.Second
	}
	return iv
}

func (s *Session) evaluateOnce(ctx context.Context) {
	if entry := s.override.Load(); entry != nil && time.Now().Before(entry.expires) {
		return
	}

	ctx, span := s.tracer.StartSpan(ctx, "session.evaluate")
	defer span.End()
	cycleID := uuid.NewString()
	span.SetAttribute("cycle_id", cycleID)
	span.SetAttribute("namespace", s.namespace)
	span.SetAttribute("name", s.name)

	cfg := s.currentConfig()
	now := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.handleTransientFailure(ctx, cfg, now, fmt.Sprintf("panic during evaluation: %v", r))
		}
	}()

	flavours := s.flavours.Snapshot()
	if len(flavours) == 0 {
		s.republishWithExtendedValidity(cfg, now, "no_flavours")
		return
	}

	var fc *forecast.Snapshot
	diagForecastDegraded := 0.0
	if s.forecastSrc != nil {
		snap, err := s.forecastSrc.Sample(ctx)
		if err != nil {
			diagForecastDegraded = 1
			s.logger.WarnCtx(ctx, "forecast unavailable", "namespace", s.namespace, "name", s.name, "error", err.Error())
		} else {
			fc = &snap
			s.intensityWindow.Observe(now, snap.IntensityNow)
		}
	}

	intensityRef := s.intensityWindow.Median(func() float64 {
		if fc != nil {
			return fc.IntensityNow
		}
		return 0
	}())

	demandSnap := s.demand.Snapshot(now)
	ledgerSnap := s.ledger.Snapshot()

	pctx := policy.Context{
		Flavours:                flavours,
		Forecast:                fc,
		Ledger:                  policy.LedgerView{Balance: ledgerSnap.Balance, Min: ledgerSnap.Min, Max: ledgerSnap.Max, Allowance: ledgerSnap.Allowance},
		Demand:                  policy.DemandView{Now: demandSnap.Now, Next: demandSnap.Next},
		CumulativeEmissionsGCO2: s.cumulativeEmissionsGCO2,
		RequestCount:            s.requestCount,
		IntensityReference:      intensityRef,
		Now:                     now,
	}

	result := s.policies.Evaluate(cfg.Policy, pctx)
	if len(result.Weights) == 0 {
		s.handleTransientFailure(ctx, cfg, now, "policy evaluation produced no weights")
		return
	}
	if result.Diagnostics == nil {
		result.Diagnostics = map[string]float64{}
	}
	if diagForecastDegraded == 1 || (fc != nil && fc.Degraded) {
		result.Diagnostics["forecast_degraded"] = 1
	}

	s.ledger.Update(result.ExpectedPrecision, 1.0)

	if fc != nil {
		s.requestCount++
		s.cumulativeEmissionsGCO2 += fc.IntensityNow
	}

	throttle, diagThrottle := s.computeThrottle(cfg, fc)
	for k, v := range diagThrottle {
		result.Diagnostics[k] = v
	}

	snap := s.assembleSnapshot(cfg, now, flavours, result, fc, throttle)
	s.snapshot.Store(&snap)
	s.logger.DebugCtx(ctx, "evaluation cycle complete", "namespace", s.namespace, "name", s.name, "cycle_id", cycleID, "policy", result.Name)
	s.consecutiveFailures = 0
	s.unhealthy.Store(false)
	s.recordMetrics(cfg, snap, result)
}

// republishWithExtendedValidity handles the empty/all-disabled flavour
// registry boundary case (§8 invariant 11): the previous snapshot is kept
// with its validity extended and no ledger update.
func (s *Session) republishWithExtendedValidity(cfg Config, now time.Time, diagnostic string) {
	prev := s.snapshot.Load()
	if prev == nil {
		return
	}
	next := *prev
	next.ValidUntil = now.Add(cfg.ValidFor)
	if next.Diagnostics == nil {
		next.Diagnostics = map[string]float64{}
	}
	next.Diagnostics[diagnostic] = 1
	s.snapshot.Store(&next)
}

// handleTransientFailure absorbs one consecutive failure per cycle; a second
// in a row flips the evaluator_unhealthy readiness bit.
func (s *Session) handleTransientFailure(ctx context.Context, cfg Config, now time.Time, reason string) {
	s.consecutiveFailures++
	if s.recorder != nil {
		s.recorder.RecordEvaluationFailed(s.namespace, s.name)
	}
	s.logger.ErrorCtx(ctx, "evaluation failed", "namespace", s.namespace, "name", s.name, "reason", reason, "consecutive", s.consecutiveFailures)

	prev := s.snapshot.Load()
	if prev == nil {
		return
	}
	next := *prev
	next.ValidUntil = now.Add(cfg.ValidFor)
	if next.Diagnostics == nil {
		next.Diagnostics = map[string]float64{}
	}
	if s.consecutiveFailures >= 2 {
		next.Diagnostics["evaluator_unhealthy"] = 1
		s.unhealthy.Store(true)
	}
	s.snapshot.Store(&next)
}

// Unhealthy reports whether the evaluator has flipped its readiness bit
// after two consecutive TransientInternal failures.
func (s *Session) Unhealthy() bool { return s.unhealthy.Load() }

func (s *Session) computeThrottle(cfg Config, fc *forecast.Snapshot) (float64, map[string]float64) {
	ledgerSnap := s.ledger.Snapshot()
	span := ledgerSnap.Max - ledgerSnap.Min
	creditsRatio := 0.0
	if span > 0 {
		creditsRatio = clamp((ledgerSnap.Balance-ledgerSnap.Min)/span, 0, 1)
	}

	intensityRatio := 1.0
	if fc != nil {
		intensityRatio = 1 - clamp((fc.IntensityNow-intensityFloor)/(intensityCeil-intensityFloor), 0, 1)
	}

	raw := math.Min(creditsRatio, intensityRatio)
	throttle := math.Max(throttleMin, raw)

	if !s.haveThrottle {
		s.prevThrottle = throttle
		s.haveThrottle = true
	}
	smoothed := (1-throttleBeta)*s.prevThrottle + throttleBeta*throttle
	s.prevThrottle = smoothed

	diag := map[string]float64{
		"credits_ratio":     creditsRatio,
		"intensity_ratio":   intensityRatio,
		"throttle_raw":      raw,
		"throttle_smoothed": smoothed,
	}
	return smoothed, diag
}

func (s *Session) assembleSnapshot(cfg Config, now time.Time, flavours []flavour.Profile, result policy.Result, fc *forecast.Snapshot, throttle float64) schedule.Snapshot {
	ledgerSnap := s.ledger.Snapshot()

	ceilings := make(map[string]int, len(cfg.Components))
	for name, bounds := range cfg.Components {
		if name == "router" {
			ceilings[name] = bounds.MaxReplicas
			continue
		}
		ceiling := int(math.Floor(float64(bounds.MaxReplicas) * throttle))
		if ceiling < bounds.MinReplicas {
			ceiling = bounds.MinReplicas
		}
		ceilings[name] = ceiling
	}

	fview := schedule.ForecastView{}
	if fc != nil {
		fview.IntensityNow = fc.IntensityNow
		fview.IntensityNext = fc.IntensityNext
		for _, sl := range fc.Schedule {
			fview.Schedule = append(fview.Schedule, schedule.ForecastSlot{From: sl.From, To: sl.To, Forecast: sl.Forecast, Index: sl.Index})
		}
	}

	span := ledgerSnap.Max - ledgerSnap.Min
	creditsRatio := 0.0
	if span > 0 {
		creditsRatio = clamp((ledgerSnap.Balance-ledgerSnap.Min)/span, 0, 1)
	}
	intensityRatio := 1.0
	if fc != nil {
		intensityRatio = 1 - clamp((fc.IntensityNow-intensityFloor)/(intensityCeil-intensityFloor), 0, 1)
	}

	return schedule.Snapshot{
		FlavourWeights: schedule.IntegerWeights(flavours, result.Weights),
		Flavours:       schedule.FlavourViews(flavours, result.Weights),
		Policy:         schedule.PolicyView{Name: result.Name},
		Credits:        toCredits(ledgerSnap),
		Processing: schedule.Processing{
			Throttle:       throttle,
			CreditsRatio:   creditsRatio,
			IntensityRatio: intensityRatio,
			Ceilings:       ceilings,
		},
		Forecast:    fview,
		Diagnostics: result.Diagnostics,
		ValidUntil:  now.Add(cfg.ValidFor),
		Manual:      false,
	}
}

func (s *Session) recordMetrics(cfg Config, snap schedule.Snapshot, result policy.Result) {
	if s.recorder == nil {
		return
	}
	for flavourName, weight := range result.Weights {
		s.recorder.RecordFlavourWeight(s.namespace, s.name, flavourName, weight)
		s.recorder.RecordPolicyChoice(s.namespace, s.name, result.Name, flavourName, weight)
	}
	s.recorder.RecordValidUntil(s.namespace, s.name, float64(snap.ValidUntil.Unix()))
	s.recorder.RecordCredits(s.namespace, s.name, result.Name, snap.Credits.Balance, snap.Credits.Velocity)
	s.recorder.RecordAvgPrecision(s.namespace, s.name, result.Name, result.ExpectedPrecision)
	s.recorder.RecordThrottle(s.namespace, s.name, result.Name, snap.Processing.Throttle)
	for component, ceiling := range snap.Processing.Ceilings {
		s.recorder.RecordCeiling(s.namespace, s.name, result.Name, component, ceiling)
	}
	if snap.Forecast.IntensityNow != 0 || snap.Forecast.IntensityNext != 0 {
		s.recorder.RecordForecastIntensity(s.namespace, s.name, "now", snap.Forecast.IntensityNow)
		s.recorder.RecordForecastIntensity(s.namespace, s.name, "next", snap.Forecast.IntensityNext)
	}
}

func toCredits(snap ledger.Snapshot) schedule.Credits {
	return schedule.Credits{
		Balance:   snap.Balance,
		Velocity:  snap.Velocity,
		Target:    snap.Target,
		Min:       snap.Min,
		Max:       snap.Max,
		Allowance: snap.Allowance,
	}
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
