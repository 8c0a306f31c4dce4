package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseProviderResponseNowAndNext(t *testing.T) {
	now := time.Now()
	pr := providerResponse{}
	pr.Slots = append(pr.Slots, struct {
		From     time.Time `json:"from"`
		To       time.Time `json:"to"`
		Forecast float64   `json:"forecast"`
		Index    string    `json:"index"`
	}{From: now.Add(-10 * time.Minute), To: now.Add(20 * time.Minute), Forecast: 150})
	pr.Slots = append(pr.Slots, struct {
		From     time.Time `json:"from"`
		To       time.Time `json:"to"`
		Forecast float64   `json:"forecast"`
		Index    string    `json:"index"`
	}{From: now.Add(20 * time.Minute), To: now.Add(50 * time.Minute), Forecast: 200})

	snap, err := parseProviderResponse(pr, now)
	require.NoError(t, err)
	require.Equal(t, 150.0, snap.IntensityNow)
	require.Equal(t, 200.0, snap.IntensityNext)
	require.False(t, snap.Degraded)
}

func TestParseProviderResponseDegradesWithSingleSlot(t *testing.T) {
	now := time.Now()
	pr := providerResponse{}
	pr.Slots = append(pr.Slots, struct {
		From     time.Time `json:"from"`
		To       time.Time `json:"to"`
		Forecast float64   `json:"forecast"`
		Index    string    `json:"index"`
	}{From: now.Add(-5 * time.Minute), To: now.Add(25 * time.Minute), Forecast: 180})

	snap, err := parseProviderResponse(pr, now)
	require.NoError(t, err)
	require.Equal(t, 180.0, snap.IntensityNow)
	require.Equal(t, 180.0, snap.IntensityNext)
	require.True(t, snap.Degraded)
}

func TestHTTPProviderCachesWithinTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		now := time.Now()
		resp := map[string]any{
			"slots": []map[string]any{
				{"from": now.Add(-time.Minute), "to": now.Add(29 * time.Minute), "forecast": 100},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPProvider(Config{SourceURL: srv.URL, Timeout: time.Second, CacheTTL: time.Minute})
	ctx := context.Background()
	_, err := p.Sample(ctx)
	require.NoError(t, err)
	_, err = p.Sample(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestHTTPProviderFallsBackToCacheOnFailure(t *testing.T) {
	up := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		now := time.Now()
		resp := map[string]any{
			"slots": []map[string]any{
				{"from": now.Add(-time.Minute), "to": now.Add(29 * time.Minute), "forecast": 120},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPProvider(Config{SourceURL: srv.URL, Timeout: time.Second, CacheTTL: 0})
	ctx := context.Background()
	snap, err := p.Sample(ctx)
	require.NoError(t, err)
	require.Equal(t, 120.0, snap.IntensityNow)

	up = false
	snap2, err := p.Sample(ctx)
	require.NoError(t, err)
	require.Equal(t, 120.0, snap2.IntensityNow)
}
