// Package schedule holds the wire-form types published by a scheduler
// session: the ScheduleSnapshot and its constituent parts, plus the
// integer-percent rounding rule used to render flavour weights.
package schedule

import (
	"sort"
	"time"

	"github.com/99souls/carbonscheduler/internal/flavour"
)

// ComponentBounds is the operator-configured (min, max) replica range for one
// named component.
type ComponentBounds struct {
	MinReplicas int `json:"minReplicas" yaml:"minReplicas"`
	MaxReplicas int `json:"maxReplicas" yaml:"maxReplicas"`
}

// FlavourView is one flavour's contribution to a published snapshot.
type FlavourView struct {
	Name      string   `json:"name"`
	Precision float64  `json:"precision"`
	Weight    float64  `json:"weight"`
	Deadline  *string  `json:"deadline,omitempty"`
}

// Credits mirrors the ledger's externally visible state.
type Credits struct {
	Balance   float64 `json:"balance"`
	Velocity  float64 `json:"velocity"`
	Target    float64 `json:"target"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Allowance float64 `json:"allowance"`
}

// Processing mirrors the session's processing-throttle computation.
type Processing struct {
	Throttle      float64        `json:"throttle"`
	CreditsRatio  float64        `json:"creditsRatio"`
	IntensityRatio float64       `json:"intensityRatio"`
	Ceilings      map[string]int `json:"ceilings"`
}

// ForecastSlot is one entry of the published forecast schedule.
type ForecastSlot struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Forecast float64   `json:"forecast"`
	Index    string    `json:"index,omitempty"`
}

// ForecastView mirrors the forecast snapshot that drove one evaluation.
type ForecastView struct {
	IntensityNow  float64        `json:"intensity_now"`
	IntensityNext float64        `json:"intensity_next"`
	Schedule      []ForecastSlot `json:"schedule,omitempty"`
}

// PolicyView names the policy that produced a snapshot.
type PolicyView struct {
	Name string `json:"name"`
}

// Snapshot is the full wire form published by a scheduler session.
type Snapshot struct {
	FlavourWeights map[string]int         `json:"flavourWeights"`
	Flavours       []FlavourView           `json:"flavours"`
	Policy         PolicyView              `json:"policy"`
	Credits        Credits                 `json:"credits"`
	Processing     Processing              `json:"processing"`
	Forecast       ForecastView            `json:"forecast"`
	Diagnostics    map[string]float64      `json:"diagnostics"`
	ValidUntil     time.Time               `json:"validUntil"`
	Manual         bool                    `json:"manual"`
}

// IntegerWeights renders [0,1] weights as integer percents summing to 100,
// placing the rounding residual on the highest-precision enabled flavour
// (spec leaves the exact rounding rule open; this is the documented choice).
func IntegerWeights(flavours []flavour.Profile, weights map[string]float64) map[string]int {
	out := make(map[string]int, len(flavours))
	if len(flavours) == 0 {
		return out
	}
	total := 0
	for _, f := range flavours {
		pct := int(weights[f.Name]*100 + 0.5) // round-half-up
		out[f.Name] = pct
		total += pct
	}
	residual := 100 - total
	if residual != 0 {
		best := flavours[0]
		for _, f := range flavours[1:] {
			if f.Precision > best.Precision {
				best = f
			}
		}
		out[best.Name] += residual
	}
	return out
}

// FlavourViews builds the flavours array from the enabled set and the
// chosen weights, sorted by descending precision to match registry order.
// precision and weight are rendered on the wire's 0..100 scale, matching
// flavourWeights' percent convention rather than the internal 0..1 fraction.
func FlavourViews(flavours []flavour.Profile, weights map[string]float64) []FlavourView {
	sorted := make([]flavour.Profile, len(flavours))
	copy(sorted, flavours)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Precision > sorted[j].Precision })

	views := make([]FlavourView, 0, len(sorted))
	for _, f := range sorted {
		views = append(views, FlavourView{
			Name:      f.Name,
			Precision: f.Precision * 100,
			Weight:    weights[f.Name] * 100,
		})
	}
	return views
}
