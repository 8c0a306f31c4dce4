package policy

import "github.com/99souls/carbonscheduler/internal/flavour"

// forecastAwarePolicy extends credit-greedy with a short-term trend
// adjustment: it spends more credit when the next slot looks cleaner and
// conserves when it looks dirtier.
type forecastAwarePolicy struct{}

func (forecastAwarePolicy) Name() string { return ForecastAware }

func (forecastAwarePolicy) Evaluate(ctx Context) Result {
	if ctx.Forecast == nil {
		weights, diag, expPrec := creditGreedyCore(ctx)
		return Result{Name: ForecastAware, Weights: weights, ExpectedPrecision: expPrec, Diagnostics: withFallback(diag)}
	}

	baseline, ok := flavour.Baseline(ctx.Flavours)
	if !ok {
		return Result{Name: ForecastAware, Weights: map[string]float64{}, Diagnostics: map[string]float64{}}
	}

	cap := ctx.TrendCap
	if cap <= 0 {
		cap = 0.3
	}
	scale := ctx.TrendScale
	if scale <= 0 {
		scale = 0.5
	}
	trend := ctx.Forecast.IntensityNext - ctx.Forecast.IntensityNow
	adj := clamp(-(trend/maxF(ctx.Forecast.IntensityNow, epsilon))*scale, -cap, cap)

	weights, diag, _ := creditGreedyBaseWithAllowanceShift(ctx, adj)
	diag["trend"] = trend
	diag["adj"] = adj

	return Result{
		Name:              ForecastAware,
		Weights:           weights,
		ExpectedPrecision: expectedPrecision(ctx.Flavours, weights),
		Diagnostics:       diag,
	}
}

// creditGreedyBaseWithAllowanceShift recomputes the credit-greedy allocation
// with an additive shift applied to the post-multiplier allowance before
// distributing non-baseline mass. Used by forecast-aware to fold in its
// trend adjustment without duplicating the scoring logic.
func creditGreedyBaseWithAllowanceShift(ctx Context, additiveShift float64) (map[string]float64, map[string]float64, float64) {
	baseline, ok := flavour.Baseline(ctx.Flavours)
	if !ok {
		return map[string]float64{}, map[string]float64{}, 0
	}

	allowance := ctx.Ledger.Allowance
	baselineIntensity := flavour.HighestCarbonIntensity(ctx.Flavours)
	if baselineIntensity == 0 && ctx.Forecast != nil {
		baselineIntensity = ctx.Forecast.IntensityNow
	}

	type scored struct {
		name  string
		score float64
	}
	scores := make([]scored, 0, len(ctx.Flavours))
	sumPos := 0.0
	for _, f := range ctx.Flavours {
		if f.Name == baseline.Name {
			continue
		}
		expErr := flavour.ExpectedError(f.Precision, epsilon)
		sc := (baselineIntensity - f.CarbonIntensity) / maxF(expErr, epsilon)
		scores = append(scores, scored{name: f.Name, score: sc})
		if sc > 0 {
			sumPos += sc
		}
	}

	multiplier := 1.0
	if ctx.Forecast != nil && ctx.IntensityReference > 0 {
		multiplier = clamp(ctx.Forecast.IntensityNow/ctx.IntensityReference, 0.5, 2.0)
	}
	adjAllowance := clamp(clamp(allowance*multiplier, 0, 1)+additiveShift, 0, 1)

	weights := make(map[string]float64, len(ctx.Flavours))
	if sumPos <= 0 {
		for _, f := range ctx.Flavours {
			if f.Name == baseline.Name {
				weights[f.Name] = 1
			} else {
				weights[f.Name] = 0
			}
		}
	} else {
		weights[baseline.Name] = 1 - adjAllowance
		for _, s := range scores {
			share := 0.0
			if s.score > 0 {
				share = adjAllowance * (s.score / sumPos)
			}
			weights[s.name] = share
		}
	}
	weights = normalise(weights)

	diag := map[string]float64{
		"allowance":            allowance,
		"intensity_multiplier": multiplier,
		"baseline_weight":      weights[baseline.Name],
	}
	return weights, diag, expectedPrecision(ctx.Flavours, weights)
}
