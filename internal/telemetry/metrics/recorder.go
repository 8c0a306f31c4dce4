package metrics

// Recorder builds every named instrument the scheduler exports exactly once
// against a Provider, then exposes typed recording methods so sessions never
// construct duplicate instruments of their own (a second NewCounter call for
// the same name against most backends is either an error or silently wrong).
type Recorder struct {
	flavourWeight       Gauge
	validUntil          Gauge
	creditBalance       Gauge
	creditVelocity      Gauge
	avgPrecision        Gauge
	processingThrottle  Gauge
	replicaCeiling      Gauge
	policyChoiceTotal   Counter
	forecastIntensity   Gauge
	forecastIntensityTS Gauge
	evaluationFailed    Counter
}

// NewRecorder registers the scheduler's fixed metric set against provider.
func NewRecorder(provider Provider) *Recorder {
	ns := "scheduler"
	return &Recorder{
		flavourWeight: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: "schedule", Name: "flavour_weight", Help: "Current weight assigned to a flavour, 0-1.",
			Labels: []string{"namespace", "schedule", "flavour"},
		}}),
		validUntil: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: "schedule", Name: "valid_until", Help: "Unix seconds the current snapshot is valid until.",
			Labels: []string{"namespace", "schedule"},
		}}),
		creditBalance: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: ns, Name: "credit_balance", Help: "Current credit ledger balance.",
			Labels: []string{"namespace", "schedule", "policy"},
		}}),
		creditVelocity: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: ns, Name: "credit_velocity", Help: "Smoothed rate of change of the credit balance.",
			Labels: []string{"namespace", "schedule", "policy"},
		}}),
		avgPrecision: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: ns, Name: "avg_precision", Help: "Weight-averaged expected precision of the active snapshot.",
			Labels: []string{"namespace", "schedule", "policy"},
		}}),
		processingThrottle: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: ns, Name: "processing_throttle", Help: "Current processing throttle, 0-1.",
			Labels: []string{"namespace", "schedule", "policy"},
		}}),
		replicaCeiling: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: ns, Name: "effective_replica_ceiling", Help: "Effective replica ceiling per component.",
			Labels: []string{"namespace", "schedule", "policy", "component"},
		}}),
		policyChoiceTotal: provider.NewCounter(CounterOpts{CommonOpts{
			Namespace: ns, Name: "policy_choice_total", Help: "Cumulative weight mass routed to a flavour under a strategy.",
			Labels: []string{"namespace", "schedule", "strategy", "flavour"},
		}}),
		forecastIntensity: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: ns, Name: "forecast_intensity", Help: "Forecasted carbon intensity by horizon.",
			Labels: []string{"namespace", "schedule", "horizon"},
		}}),
		forecastIntensityTS: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: ns, Name: "forecast_intensity_timestamped", Help: "Same value as forecast_intensity; no explicit sample timestamp is attached.",
			Labels: []string{"namespace", "schedule", "horizon"},
		}}),
		evaluationFailed: provider.NewCounter(CounterOpts{CommonOpts{
			Namespace: ns, Name: "evaluation_failed_total", Help: "Evaluator cycles that hit a TransientInternal failure.",
			Labels: []string{"namespace", "schedule"},
		}}),
	}
}

// RecordFlavourWeight sets the per-flavour weight gauge.
func (r *Recorder) RecordFlavourWeight(namespace, name, flavour string, weight float64) {
	r.flavourWeight.Set(weight, namespace, name, flavour)
}

// RecordValidUntil sets the snapshot expiry gauge in unix seconds.
func (r *Recorder) RecordValidUntil(namespace, name string, unixSeconds float64) {
	r.validUntil.Set(unixSeconds, namespace, name)
}

// RecordCredits sets the ledger gauges.
func (r *Recorder) RecordCredits(namespace, name, policyName string, balance, velocity float64) {
	r.creditBalance.Set(balance, namespace, name, policyName)
	r.creditVelocity.Set(velocity, namespace, name, policyName)
}

// RecordAvgPrecision sets the weighted-average expected precision gauge.
func (r *Recorder) RecordAvgPrecision(namespace, name, policyName string, precision float64) {
	r.avgPrecision.Set(precision, namespace, name, policyName)
}

// RecordThrottle sets the processing throttle gauge.
func (r *Recorder) RecordThrottle(namespace, name, policyName string, throttle float64) {
	r.processingThrottle.Set(throttle, namespace, name, policyName)
}

// RecordCeiling sets one component's effective replica ceiling gauge.
func (r *Recorder) RecordCeiling(namespace, name, policyName, component string, ceiling int) {
	r.replicaCeiling.Set(float64(ceiling), namespace, name, policyName, component)
}

// RecordPolicyChoice adds weight*1.0 mass to the cumulative policy choice counter.
func (r *Recorder) RecordPolicyChoice(namespace, name, policyName, flavour string, weight float64) {
	r.policyChoiceTotal.Inc(weight, namespace, name, policyName, flavour)
}

// RecordForecastIntensity sets both the plain and timestamped forecast gauges.
func (r *Recorder) RecordForecastIntensity(namespace, name, horizon string, value float64) {
	r.forecastIntensity.Set(value, namespace, name, horizon)
	r.forecastIntensityTS.Set(value, namespace, name, horizon)
}

// RecordEvaluationFailed increments the evaluation failure counter.
func (r *Recorder) RecordEvaluationFailed(namespace, name string) {
	r.evaluationFailed.Inc(1, namespace, name)
}
