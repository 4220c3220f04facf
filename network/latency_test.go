package network

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatencyLookupFallbackChain(t *testing.T) {
	model := NewLatencyModel(map[string]map[string]float64{
		"us": {"de": 45, "default": 70},
		"sg": {"default": 90},
	})

	// Forward entry.
	require.Equal(t, 45.0, model.Lookup("us", "de").BaseMs)
	// Source default.
	require.Equal(t, 70.0, model.Lookup("us", "jp").BaseMs)
	// Reverse entry.
	require.Equal(t, 45.0, model.Lookup("de", "us").BaseMs)
	// Destination default.
	require.Equal(t, 90.0, model.Lookup("jp", "sg").BaseMs)
	// Global fallback.
	require.Equal(t, 100.0, model.Lookup("jp", "au").BaseMs)
}

func TestJitterRatioByDistance(t *testing.T) {
	require.Equal(t, 0.05, jitterRatio(10))
	require.Equal(t, 0.05, jitterRatio(29.9))
	require.Equal(t, 0.10, jitterRatio(30))
	require.Equal(t, 0.10, jitterRatio(79.9))
	require.Equal(t, 0.15, jitterRatio(80))
	require.Equal(t, 0.15, jitterRatio(300))
}

func TestLatencyLookupCached(t *testing.T) {
	model := NewLatencyModel(map[string]map[string]float64{
		"us": {"de": 45},
	})
	first := model.Lookup("us", "de")
	second := model.Lookup("us", "de")
	require.Equal(t, first, second)
	require.Len(t, model.cache, 1)
}

func TestLatencyModelCountries(t *testing.T) {
	model := NewLatencyModel(map[string]map[string]float64{
		"us": {"de": 45, "default": 70},
		"sg": {"jp": 35},
	})
	require.Equal(t, []Country{"de", "jp", "sg", "us"}, model.Countries())
}

func TestLoadLatencyModelFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latencies.json")
	data := map[string]map[string]float64{"us": {"de": 45}}
	blob, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	model, err := LoadLatencyModel(path)
	require.NoError(t, err)
	require.Equal(t, 45.0, model.Lookup("us", "de").BaseMs)

	_, err = LoadLatencyModel(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestCountryWeights(t *testing.T) {
	weights := NewCountryWeights(map[Country]int{"us": 3, "de": 1})
	require.Equal(t, 4, weights.Total())
	require.Equal(t, []Country{"de", "us"}, weights.Countries())

	probs := weights.Normalized()
	require.InDelta(t, 0.75, probs["us"], 1e-9)
	require.InDelta(t, 0.25, probs["de"], 1e-9)
}

func TestLoadCountryWeightsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"us": 10, "de": 5}`), 0o644))

	weights, err := LoadCountryWeights(path)
	require.NoError(t, err)
	require.Equal(t, 15, weights.Total())
}

func TestDefaultTablesConsistent(t *testing.T) {
	latencies := DefaultLatencies()
	weights := DefaultWeights()

	// Every weighted country resolves to a sane same-country latency.
	for _, country := range weights.Countries() {
		params := latencies.Lookup(country, country)
		require.Greater(t, params.BaseMs, 0.0)
		require.Less(t, params.BaseMs, 100.0)
	}
}
