package policy

import "github.com/99souls/carbonscheduler/internal/flavour"

// precisionTierPolicy is the carbon-insensitive baseline: 100% weight on the
// highest-precision enabled flavour. Used as the experimental control and as
// the policy Set.Evaluate runs for an unrecognised policy name.
type precisionTierPolicy struct{}

func (precisionTierPolicy) Name() string { return PrecisionTier }

func (precisionTierPolicy) Evaluate(ctx Context) Result {
	baseline, ok := flavour.Baseline(ctx.Flavours)
	if !ok {
		return Result{Name: PrecisionTier, Weights: map[string]float64{}, Diagnostics: map[string]float64{}}
	}
	weights := make(map[string]float64, len(ctx.Flavours))
	for _, f := range ctx.Flavours {
		if f.Name == baseline.Name {
			weights[f.Name] = 1
		} else {
			weights[f.Name] = 0
		}
	}
	return Result{
		Name:              PrecisionTier,
		Weights:           weights,
		ExpectedPrecision: baseline.Precision,
		Diagnostics:       map[string]float64{},
	}
}
