package policy

import (
	"testing"
	"time"

	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/99souls/carbonscheduler/internal/forecast"
	"github.com/stretchr/testify/require"
)

func twoFlavours() []flavour.Profile {
	return []flavour.Profile{
		{Name: "A", Precision: 1.0, CarbonIntensity: 200, LatencyWeight: 1, Enabled: true},
		{Name: "B", Precision: 0.7, CarbonIntensity: 80, LatencyWeight: 1, Enabled: true},
	}
}

func sumWeights(w map[string]float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

func TestPrecisionTierAlwaysBaseline(t *testing.T) {
	set := NewSet()
	res := set.Evaluate(PrecisionTier, Context{Flavours: twoFlavours()})
	require.Equal(t, 1.0, res.Weights["A"])
	require.Equal(t, 0.0, res.Weights["B"])
	require.Equal(t, 1.0, res.ExpectedPrecision)
}

func TestCreditGreedyZeroAllowanceIsAllBaseline(t *testing.T) {
	set := NewSet()
	res := set.Evaluate(CreditGreedy, Context{
		Flavours: twoFlavours(),
		Ledger:   LedgerView{Allowance: 0},
	})
	require.InDelta(t, 1.0, res.Weights["A"], 1e-9)
	require.InDelta(t, 0.0, res.Weights["B"], 1e-9)
}

func TestCreditGreedyWeightsSumToOne(t *testing.T) {
	set := NewSet()
	res := set.Evaluate(CreditGreedy, Context{
		Flavours: twoFlavours(),
		Ledger:   LedgerView{Allowance: 0.6},
	})
	require.InDelta(t, 1.0, sumWeights(res.Weights), 1e-6)
	for _, w := range res.Weights {
		require.GreaterOrEqual(t, w, 0.0)
	}
}

func TestForecastAwareFallsBackWithoutForecast(t *testing.T) {
	set := NewSet()
	res := set.Evaluate(ForecastAware, Context{
		Flavours: twoFlavours(),
		Ledger:   LedgerView{Allowance: 0.5},
	})
	require.Equal(t, 1.0, res.Diagnostics["policy_fallback"])
}

func TestForecastAwareTrendReversalIncreasesBaselineWeight(t *testing.T) {
	set := NewSet()
	base := Context{
		Flavours: twoFlavours(),
		Ledger:   LedgerView{Allowance: 0.5},
	}

	same := base
	same.Forecast = &forecast.Snapshot{IntensityNow: 200, IntensityNext: 200}
	resSame := set.Evaluate(ForecastAware, same)

	dirtier := base
	dirtier.Forecast = &forecast.Snapshot{IntensityNow: 200, IntensityNext: 260}
	resDirtier := set.Evaluate(ForecastAware, dirtier)

	require.Greater(t, resDirtier.Weights["A"], resSame.Weights["A"])
}

func TestForecastAwareGlobalFallsBackWithoutForecast(t *testing.T) {
	set := NewSet()
	res := set.Evaluate(ForecastAwareGlobal, Context{
		Flavours: twoFlavours(),
		Ledger:   LedgerView{Allowance: 0.5},
	})
	require.Equal(t, 1.0, res.Diagnostics["policy_fallback"])
}

func TestForecastAwareGlobalIntensityNextAboveThresholdDecreasesAllowance(t *testing.T) {
	set := NewSet()
	flavours := []flavour.Profile{
		{Name: "A", Precision: 1.0, Enabled: true},
		{Name: "B", Precision: 0.5, Enabled: true},
		{Name: "C", Precision: 0.3, Enabled: true},
	}
	base := Context{
		Flavours: flavours,
		Ledger:   LedgerView{Allowance: 0.5},
		Demand:   DemandView{Now: 10, Next: 10},
	}

	neutral := base
	neutral.Forecast = &forecast.Snapshot{IntensityNow: 200, IntensityNext: 200}
	resNeutral := set.Evaluate(ForecastAwareGlobal, neutral)

	dirtier := base
	dirtier.Forecast = &forecast.Snapshot{IntensityNow: 200, IntensityNext: 220} // +10% > 1.05x
	resDirtier := set.Evaluate(ForecastAwareGlobal, dirtier)

	cleaner := base
	cleaner.Forecast = &forecast.Snapshot{IntensityNow: 200, IntensityNext: 180} // -10% < 0.95x
	resCleaner := set.Evaluate(ForecastAwareGlobal, cleaner)

	// A dirtier next slot pulls more mass back onto baseline (less credit
	// spent); a cleaner one pushes mass away from baseline (more spent).
	require.Greater(t, resDirtier.Weights["A"], resNeutral.Weights["A"])
	require.Greater(t, resNeutral.Weights["A"], resCleaner.Weights["A"])
}

func TestForecastAwareGlobalFusesAllFourAdjustments(t *testing.T) {
	set := NewSet()
	flavours := []flavour.Profile{
		{Name: "A", Precision: 1.0, Enabled: true},
		{Name: "B", Precision: 0.5, Enabled: true},
		{Name: "C", Precision: 0.3, Enabled: true},
	}
	ctx := Context{
		Flavours:                flavours,
		Ledger:                  LedgerView{Allowance: 0.5},
		Demand:                  DemandView{Now: 10, Next: 16}, // 1.6x -> demand_adj = -0.6
		CumulativeEmissionsGCO2: 1.3 * 200 * 10,                // avg = 1.3x intensity_now -> emissions_adj = +0.5
		RequestCount:            10,
		Forecast: &forecast.Snapshot{
			IntensityNow:  200,
			IntensityNext: 180, // -10% -> carbon_adj > 0
			Extended: []forecast.ExtendedPoint{
				{HorizonHours: 1, Intensity: 250},
			},
		},
	}
	res := set.Evaluate(ForecastAwareGlobal, ctx)
	require.Greater(t, res.Diagnostics["carbon_adj"], 0.0)
	require.Equal(t, -0.6, res.Diagnostics["demand_adj"])
	require.Equal(t, 0.5, res.Diagnostics["emissions_adj"])
	require.GreaterOrEqual(t, res.Diagnostics["total_adjustment"], -0.5)
	require.LessOrEqual(t, res.Diagnostics["total_adjustment"], 0.5)
}

func TestIntensityWindowMedianBootstraps(t *testing.T) {
	w := NewIntensityWindow(time.Minute)
	require.Equal(t, 150.0, w.Median(150))
	w.Observe(time.Now(), 100)
	w.Observe(time.Now(), 300)
	require.Equal(t, 200.0, w.Median(0))
}

func TestIntensityWindowResizeDropsSamplesOutsideNewWindow(t *testing.T) {
	w := NewIntensityWindow(time.Hour)
	now := time.Now()
	w.Observe(now.Add(-50*time.Minute), 100)
	w.Observe(now, 300)
	require.Equal(t, 200.0, w.Median(0))

	w.Resize(time.Minute)
	require.Equal(t, 300.0, w.Median(0))
}
