// Package config loads process-level bootstrap configuration from the
// environment, in the getEnvOrDefault idiom the wider carbon-scheduling
// ecosystem uses for its typed env-var getters.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/99souls/carbonscheduler/internal/session"
)

// Process holds the top-level process configuration: which default
// (namespace, name) the bare /schedule and /setschedule aliases target, the
// starting session Config applied to it, and the ports/log level the
// bootstrap binary needs before any session exists.
type Process struct {
	DefaultNamespace string
	DefaultName      string
	MetricsPort      int
	LogLevel         string
	CarbonAPIURL     string
	Session          session.Config
}

// LoadFromEnv reads every environment variable named in the external
// interface table, falling back to its documented default when unset or
// unparsable.
func LoadFromEnv() Process {
	defaults := session.Defaults()

	return Process{
		DefaultNamespace: getEnvOrDefault("DEFAULT_SCHEDULE_NAMESPACE", "default"),
		DefaultName:      getEnvOrDefault("DEFAULT_SCHEDULE_NAME", "default"),
		MetricsPort:      getIntOrDefault("METRICS_PORT", 8001),
		LogLevel:         getEnvOrDefault("LOGLEVEL", "INFO"),
		CarbonAPIURL:     os.Getenv("CARBON_API_URL"),
		Session: session.Config{
			TargetError:    getFloatOrDefault("TARGET_ERROR", defaults.TargetError),
			CreditMin:      getFloatOrDefault("CREDIT_MIN", defaults.CreditMin),
			CreditMax:      getFloatOrDefault("CREDIT_MAX", defaults.CreditMax),
			CreditWindow:   getFloatOrDefault("CREDIT_WINDOW", defaults.CreditWindow),
			Policy:         getEnvOrDefault("SCHEDULER_POLICY", defaults.Policy),
			ValidFor:       getDurationSecondsOrDefault("SCHEDULE_VALID_FOR", defaults.ValidFor),
			CarbonTarget:   getEnvOrDefault("CARBON_API_TARGET", defaults.CarbonTarget),
			CarbonTimeout:  getDurationSecondsOrDefault("CARBON_API_TIMEOUT", defaults.CarbonTimeout),
			CarbonCacheTTL: getDurationSecondsOrDefault("CARBON_API_CACHE_TTL", defaults.CarbonCacheTTL),
			Components:     defaults.Components,
		},
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getDurationSecondsOrDefault parses a bare-number-of-seconds env var (the
// wire convention used throughout §6), not a Go duration string.
func getDurationSecondsOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(parsed * float64(time.Second))
		}
	}
	return def
}
