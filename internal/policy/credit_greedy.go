package policy

import "github.com/99souls/carbonscheduler/internal/flavour"

// creditGreedyPolicy spends ledger credit on greener flavours while
// respecting the error budget.
type creditGreedyPolicy struct{}

func (creditGreedyPolicy) Name() string { return CreditGreedy }

func (creditGreedyPolicy) Evaluate(ctx Context) Result {
	weights, diag, expPrec := creditGreedyCore(ctx)
	return Result{Name: CreditGreedy, Weights: weights, ExpectedPrecision: expPrec, Diagnostics: diag}
}

// creditGreedyCore computes the shared credit-greedy allocation reused as
// the base allocation for forecast-aware and forecast-aware-global.
func creditGreedyCore(ctx Context) (weights map[string]float64, diag map[string]float64, expPrecision float64) {
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
	adjAllowance := clamp(allowance*multiplier, 0, 1)

	weights = make(map[string]float64, len(ctx.Flavours))
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

	diag = map[string]float64{
		"allowance":           allowance,
		"intensity_multiplier": multiplier,
		"baseline_weight":      weights[baseline.Name],
	}
	expPrecision = expectedPrecision(ctx.Flavours, weights)
	return weights, diag, expPrecision
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
