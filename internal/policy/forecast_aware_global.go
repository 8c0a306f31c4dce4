package policy

import (
	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/99souls/carbonscheduler/internal/forecast"
)

// forecastAwareGlobalPolicy inherits credit-greedy's base allocation and
// fuses four adjustments (short-term carbon trend, demand, cumulative
// emissions, and extended-forecast lookahead) into a single bounded shift of
// mass between the baseline and non-baseline flavours.
type forecastAwareGlobalPolicy struct{}

func (forecastAwareGlobalPolicy) Name() string { return ForecastAwareGlobal }

func (forecastAwareGlobalPolicy) Evaluate(ctx Context) Result {
	if ctx.Forecast == nil {
		// Absence of forecast cascades past forecast-aware straight to
		// credit-greedy: both dependents share the same missing prerequisite.
		weights, diag, expPrec := creditGreedyCore(ctx)
		return Result{Name: ForecastAwareGlobal, Weights: weights, ExpectedPrecision: expPrec, Diagnostics: withFallback(diag)}
	}

	baseline, ok := flavour.Baseline(ctx.Flavours)
	if !ok {
		return Result{Name: ForecastAwareGlobal, Weights: map[string]float64{}, Diagnostics: map[string]float64{}}
	}

	baseWeights, _, _ := creditGreedyCore(ctx)

	carbonAdj := carbonAdjustment(ctx.Forecast.IntensityNow, ctx.Forecast.IntensityNext)
	demandAdj := demandAdjustment(ctx.Demand.Now, ctx.Demand.Next)
	emissionsAdj := emissionsAdjustment(ctx.CumulativeEmissionsGCO2, ctx.RequestCount, ctx.Forecast.IntensityNow)
	lookaheadAdj := lookaheadAdjustment(ctx.Forecast.Extended, ctx.Forecast.IntensityNow)

	total := clamp(0.35*carbonAdj+0.25*demandAdj+0.25*emissionsAdj+0.15*lookaheadAdj, -0.5, 0.5)

	weights := applyGlobalShift(baseWeights, baseline.Name, total)

	avg := ctx.CumulativeEmissionsGCO2 / maxF(float64(ctx.RequestCount), 1)
	diag := map[string]float64{
		"carbon_adj":         carbonAdj,
		"demand_adj":         demandAdj,
		"emissions_adj":      emissionsAdj,
		"lookahead_adj":      lookaheadAdj,
		"total_adjustment":   total,
		"cumulative_gco2":    ctx.CumulativeEmissionsGCO2,
		"avg_emissions_gco2": avg,
	}

	return Result{
		Name:              ForecastAwareGlobal,
		Weights:           weights,
		ExpectedPrecision: expectedPrecision(ctx.Flavours, weights),
		Diagnostics:       diag,
	}
}

// carbonAdjustment is expressed in [-1,1]: negative when the next slot is
// more than 5% dirtier than now, positive when more than 5% cleaner,
// magnitude proportional to the relative delta and capped at 0.8. The scale
// factor (10) is a calibration choice: see DESIGN.md.
func carbonAdjustment(intensityNow, intensityNext float64) float64 {
	if intensityNow <= 0 {
		return 0
	}
	relDelta := (intensityNext - intensityNow) / intensityNow
	return clamp(-relDelta*10, -0.8, 0.8)
}

func demandAdjustment(demandNow, demandNext float64) float64 {
	if demandNow <= 0 {
		return 0
	}
	if demandNext >= 1.5*demandNow {
		return -0.6
	}
	if demandNext <= 0.7*demandNow {
		return 0.4
	}
	return 0
}

func emissionsAdjustment(cumulativeGCO2 float64, requestCount int64, intensityNow float64) float64 {
	if intensityNow <= 0 {
		return 0
	}
	avg := cumulativeGCO2 / maxF(float64(requestCount), 1)
	if avg > 1.2*intensityNow {
		return 0.5
	}
	if avg < 0.8*intensityNow {
		return -0.5
	}
	return 0
}

// lookaheadAdjustment summarises the next up-to-6 extended-forecast points
// (already horizon-ascending): a clean patch ahead spends more credit now, a
// dirty spike ahead conserves it.
func lookaheadAdjustment(extended []forecast.ExtendedPoint, intensityNow float64) float64 {
	if intensityNow <= 0 || len(extended) == 0 {
		return 0
	}
	n := len(extended)
	if n > 6 {
		n = 6
	}
	minFuture, maxFuture := extended[0].Intensity, extended[0].Intensity
	for _, p := range extended[:n] {
		if p.Intensity < minFuture {
			minFuture = p.Intensity
		}
		if p.Intensity > maxFuture {
			maxFuture = p.Intensity
		}
	}
	if minFuture < 0.6*intensityNow {
		return 0.5
	}
	if maxFuture > 1.4*intensityNow {
		return -0.5
	}
	return 0
}

// applyGlobalShift moves mass between baseline and the non-baseline flavours,
// distributed proportionally to their existing share of the non-baseline
// mass: for total > 0 it moves total x baseline weight off the baseline, for
// total < 0 it moves |total| x non-baseline mass back onto it.
func applyGlobalShift(base map[string]float64, baselineName string, total float64) map[string]float64 {
	out := make(map[string]float64, len(base))
	for k, v := range base {
		out[k] = v
	}
	if total == 0 {
		return out
	}
	baselineWeight := base[baselineName]
	nonBaselineMass := 1 - baselineWeight
	if nonBaselineMass <= 0 {
		return out
	}
	if total > 0 {
		moved := total * baselineWeight
		out[baselineName] = baselineWeight - moved
		for k, v := range base {
			if k == baselineName {
				continue
			}
			out[k] = v + moved*(v/nonBaselineMass)
		}
	} else {
		moved := -total * nonBaselineMass
		out[baselineName] = baselineWeight + moved
		for k, v := range base {
			if k == baselineName {
				continue
			}
			out[k] = v - moved*(v/nonBaselineMass)
		}
	}
	return normalise(out)
}
