package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/carbonscheduler/internal/schedule"
)

func floatp(v float64) *float64 { return &v }
func stringp(v string) *string  { return &v }

func TestMergeAppliesOnlySetFields(t *testing.T) {
	base := Defaults()
	out, err := Merge(base, PartialConfig{TargetError: floatp(0.2)})
	require.NoError(t, err)
	require.InDelta(t, 0.2, out.TargetError, 1e-9)
	require.Equal(t, base.CreditMin, out.CreditMin)
}

func TestMergeRejectsTargetErrorOutOfRange(t *testing.T) {
	base := Defaults()
	_, err := Merge(base, PartialConfig{TargetError: floatp(1.5)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMergeRejectsInvertedCreditBounds(t *testing.T) {
	base := Defaults()
	_, err := Merge(base, PartialConfig{CreditMin: floatp(0.1)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMergeRejectsUnknownPolicy(t *testing.T) {
	base := Defaults()
	_, err := Merge(base, PartialConfig{Policy: stringp("not-a-policy")})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMergeRejectsValidForUnderOneSecond(t *testing.T) {
	base := Defaults()
	_, err := Merge(base, PartialConfig{ValidFor: floatp(0.1)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMergeRejectsCreditWindowBelowOne(t *testing.T) {
	base := Defaults()
	_, err := Merge(base, PartialConfig{CreditWindow: floatp(0)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMergeConvertsPercentagePrecision(t *testing.T) {
	base := Defaults()
	out, err := Merge(base, PartialConfig{
		Flavours: []PartialFlavour{{Name: "A", Precision: 70}},
	})
	require.NoError(t, err)
	require.InDelta(t, 0.7, out.Flavours[0].Precision, 1e-9)
}

func TestMergeRejectsFlavourPrecisionOutOfRange(t *testing.T) {
	base := Defaults()
	_, err := Merge(base, PartialConfig{
		Flavours: []PartialFlavour{{Name: "A", Precision: 0}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMergeLeavesBaseUntouchedOnError(t *testing.T) {
	base := Defaults()
	_, err := Merge(base, PartialConfig{TargetError: floatp(2.0)})
	require.Error(t, err)
	require.InDelta(t, 0.05, base.TargetError, 1e-9)
}

func TestMergeValidForConvertsSecondsToDuration(t *testing.T) {
	base := Defaults()
	out, err := Merge(base, PartialConfig{ValidFor: floatp(90)})
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, out.ValidFor)
}

func TestMergeComponentsMergesPerKeyRatherThanReplacing(t *testing.T) {
	base := Defaults()
	base.Components = map[string]schedule.ComponentBounds{
		"worker": {MinReplicas: 1, MaxReplicas: 10},
		"router": {MinReplicas: 2, MaxReplicas: 4},
	}
	out, err := Merge(base, PartialConfig{
		Components: map[string]schedule.ComponentBounds{
			"worker": {MinReplicas: 2, MaxReplicas: 20},
		},
	})
	require.NoError(t, err)
	require.Equal(t, schedule.ComponentBounds{MinReplicas: 2, MaxReplicas: 20}, out.Components["worker"])
	require.Equal(t, schedule.ComponentBounds{MinReplicas: 2, MaxReplicas: 4}, out.Components["router"])

	// base must be left untouched.
	require.Equal(t, schedule.ComponentBounds{MinReplicas: 1, MaxReplicas: 10}, base.Components["worker"])
}
