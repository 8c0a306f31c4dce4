package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/99souls/carbonscheduler/internal/policy"
	"github.com/99souls/carbonscheduler/internal/schedule"
)

// Config is the fully-resolved per-session configuration. PartialConfig
// carries the PUT /config wire form; Merge folds it onto a Config.
type Config struct {
	TargetError       float64
	CreditMin         float64
	CreditMax         float64
	CreditWindow      float64 // seconds
	Policy            string
	ValidFor          time.Duration
	DiscoveryInterval time.Duration
	CarbonTarget      string
	CarbonTimeout     time.Duration
	CarbonCacheTTL    time.Duration
	Components        map[string]schedule.ComponentBounds
	Flavours          []flavour.Profile
}

// Defaults returns the process-wide defaults a new session starts from,
// before any PUT /config is applied.
func Defaults() Config {
	return Config{
		TargetError:       0.05,
		CreditMin:         -0.5,
		CreditMax:         0.5,
		CreditWindow:      300,
		Policy:            policy.CreditGreedy,
		ValidFor:          60 * time.Second,
		DiscoveryInterval: 0,
		CarbonTarget:      "national",
		CarbonTimeout:     2 * time.Second,
		CarbonCacheTTL:    300 * time.Second,
		Components:        map[string]schedule.ComponentBounds{},
		Flavours:          nil,
	}
}

// PartialFlavour mirrors one entry of the wire-form flavours array; nil
// Enabled defaults to true.
type PartialFlavour struct {
	Name            string
	Precision       float64
	CarbonIntensity float64
	Enabled         *bool
}

// PartialConfig mirrors the PUT /config/{ns}/{name} wire form: every field
// is optional, and a nil field leaves the existing value untouched.
type PartialConfig struct {
	TargetError       *float64
	CreditMin         *float64
	CreditMax         *float64
	CreditWindow      *float64
	Policy            *string
	ValidFor          *float64 // seconds
	DiscoveryInterval *float64
	CarbonTarget      *string
	CarbonTimeout     *float64
	CarbonCacheTTL    *float64
	Components        map[string]schedule.ComponentBounds
	Flavours          []PartialFlavour
}

var validPolicies = map[string]bool{
	policy.PrecisionTier:       true,
	policy.CreditGreedy:        true,
	policy.ForecastAware:       true,
	policy.ForecastAwareGlobal: true,
}

// ErrValidation is wrapped by every configuration rejection.
var ErrValidation = errors.New("session: invalid configuration")

// Merge folds p onto base, returning the resulting Config and a validation
// error if the merged result would be invalid. base is left untouched.
func Merge(base Config, p PartialConfig) (Config, error) {
	out := base
	if p.TargetError != nil {
		out.TargetError = *p.TargetError
	}
	if p.CreditMin != nil {
		out.CreditMin = *p.CreditMin
	}
	if p.CreditMax != nil {
		out.CreditMax = *p.CreditMax
	}
	if p.CreditWindow != nil {
		out.CreditWindow = *p.CreditWindow
	}
	if p.Policy != nil {
		out.Policy = *p.Policy
	}
	if p.ValidFor != nil {
		out.ValidFor = time.Duration(*p.ValidFor * float64(time.Second))
	}
	if p.DiscoveryInterval != nil {
		out.DiscoveryInterval = time.Duration(*p.DiscoveryInterval * float64(time.Second))
	}
	if p.CarbonTarget != nil {
		out.CarbonTarget = *p.CarbonTarget
	}
	if p.CarbonTimeout != nil {
		out.CarbonTimeout = time.Duration(*p.CarbonTimeout * float64(time.Second))
	}
	if p.CarbonCacheTTL != nil {
		out.CarbonCacheTTL = time.Duration(*p.CarbonCacheTTL * float64(time.Second))
	}
	if p.Components != nil {
		merged := make(map[string]schedule.ComponentBounds, len(out.Components)+len(p.Components))
		for name, bounds := range out.Components {
			merged[name] = bounds
		}
		for name, bounds := range p.Components {
			merged[name] = bounds
		}
		out.Components = merged
	}
	if p.Flavours != nil {
		profiles := make([]flavour.Profile, 0, len(p.Flavours))
		for _, f := range p.Flavours {
			precision := f.Precision
			if precision > 1 {
				precision = precision / 100
			}
			enabled := true
			if f.Enabled != nil {
				enabled = *f.Enabled
			}
			profiles = append(profiles, flavour.Profile{
				Name:            f.Name,
				Precision:       precision,
				CarbonIntensity: f.CarbonIntensity,
				Enabled:         enabled,
			})
		}
		out.Flavours = profiles
	}

	if err := validate(out); err != nil {
		return base, err
	}
	return out, nil
}

func validate(c Config) error {
	if c.TargetError < 0 || c.TargetError >= 1 {
		return fmt.Errorf("%w: targetError must be in [0,1)", ErrValidation)
	}
	if c.CreditMin > 0 || c.CreditMax < 0 {
		return fmt.Errorf("%w: creditMin must be <= 0 <= creditMax", ErrValidation)
	}
	if c.CreditWindow < 1 {
		return fmt.Errorf("%w: creditWindow must be >= 1", ErrValidation)
	}
	if c.Policy != "" && !validPolicies[c.Policy] {
		return fmt.Errorf("%w: unknown policy %q", ErrValidation, c.Policy)
	}
	if c.ValidFor < time.Second {
		return fmt.Errorf("%w: validFor must be >= 1s", ErrValidation)
	}
	for _, f := range c.Flavours {
		if f.Precision <= 0 || f.Precision > 1 {
			return fmt.Errorf("%w: flavour %q precision must be in (0,1]", ErrValidation, f.Name)
		}
	}
	return nil
}
