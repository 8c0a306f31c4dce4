package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const sampleSeed = `
flavours:
  - name: A
    precision: 1.0
    carbonIntensity: 200
  - name: B
    precision: 70
    carbonIntensity: 80
    enabled: false
components:
  worker:
    minReplicas: 2
    maxReplicas: 10
`

func TestLoadSeedParsesFlavoursAndComponents(t *testing.T) {
	path := writeSeedFile(t, t.TempDir(), sampleSeed)
	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Flavours, 2)
	require.Equal(t, 10, seed.Components["worker"].MaxReplicas)

	profiles := seed.Flavours()
	require.Len(t, profiles, 2)
	require.Equal(t, "A", profiles[0].Name)
	require.InDelta(t, 1.0, profiles[0].Precision, 1e-9)
	require.True(t, profiles[0].Enabled)

	require.InDelta(t, 0.7, profiles[1].Precision, 1e-9)
	require.False(t, profiles[1].Enabled)
}

func TestLoadSeedMissingFileErrors(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWatchSeedFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeSeedFile(t, dir, sampleSeed)

	changed := make(chan Seed, 1)
	stop, err := WatchSeed(path, func(s Seed) { changed <- s })
	require.NoError(t, err)
	defer stop()

	updated := sampleSeed + "\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case seed := <-changed:
		require.Len(t, seed.Flavours, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for seed reload")
	}
}
