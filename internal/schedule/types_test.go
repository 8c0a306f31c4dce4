package schedule

import (
	"testing"

	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/stretchr/testify/require"
)

func TestIntegerWeightsSumsTo100(t *testing.T) {
	flavours := []flavour.Profile{
		{Name: "A", Precision: 1.0},
		{Name: "B", Precision: 0.7},
		{Name: "C", Precision: 0.3},
	}
	weights := map[string]float64{"A": 0.334, "B": 0.333, "C": 0.333}
	out := IntegerWeights(flavours, weights)
	sum := 0
	for _, v := range out {
		sum += v
	}
	require.Equal(t, 100, sum)
}

func TestIntegerWeightsResidualOnHighestPrecision(t *testing.T) {
	flavours := []flavour.Profile{
		{Name: "A", Precision: 1.0},
		{Name: "B", Precision: 0.7},
	}
	// 0.333/0.333 rounds to 33/33 = 66, residual 34 goes to A (higher precision).
	weights := map[string]float64{"A": 0.333, "B": 0.333}
	out := IntegerWeights(flavours, weights)
	require.Equal(t, 67, out["A"])
	require.Equal(t, 33, out["B"])
}

func TestIntegerWeightsEmpty(t *testing.T) {
	require.Empty(t, IntegerWeights(nil, nil))
}

func TestFlavourViewsSortedByDescendingPrecision(t *testing.T) {
	flavours := []flavour.Profile{
		{Name: "B", Precision: 0.3},
		{Name: "A", Precision: 1.0},
	}
	views := FlavourViews(flavours, map[string]float64{"A": 1, "B": 0})
	require.Equal(t, "A", views[0].Name)
	require.Equal(t, "B", views[1].Name)
}

func TestFlavourViewsRendersPercentScale(t *testing.T) {
	flavours := []flavour.Profile{{Name: "A", Precision: 0.7}}
	views := FlavourViews(flavours, map[string]float64{"A": 0.5})
	require.InDelta(t, 70.0, views[0].Precision, 1e-9)
	require.InDelta(t, 50.0, views[0].Weight, 1e-9)
}
