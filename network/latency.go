// Package network models message delivery: per-link base latency, jitter,
// transmission time and a CoDel-style virtual queue for congestion.
package network

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Country labels a node's location and keys the latency table.
type Country = string

// LatencyParams describe one directed country pair.
type LatencyParams struct {
	BaseMs      float64
	JitterRatio float64
}

// jitterRatio is distance-derived: longer links jitter more.
func jitterRatio(baseMs float64) float64 {
	switch {
	case baseMs < 30:
		return 0.05
	case baseMs < 80:
		return 0.10
	default:
		return 0.15
	}
}

// LatencyModel is the country-to-country base latency lookup.
//
// The table is not assumed symmetric. Lookup falls back in order: forward
// entry, source "default", reverse entry, destination "default", then a
// global 100 ms.
type LatencyModel struct {
	raw   map[string]map[string]float64
	cache map[[2]Country]LatencyParams
}

// NewLatencyModel wraps a raw latency table.
func NewLatencyModel(data map[string]map[string]float64) *LatencyModel {
	return &LatencyModel{
		raw:   data,
		cache: make(map[[2]Country]LatencyParams),
	}
}

// LoadLatencyModel reads a JSON latency table from disk.
func LoadLatencyModel(path string) (*LatencyModel, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read latency table %s: %w", path, err)
	}
	var data map[string]map[string]float64
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("parse latency table %s: %w", path, err)
	}
	return NewLatencyModel(data), nil
}

// Lookup resolves the latency parameters for a directed country pair.
func (m *LatencyModel) Lookup(from, to Country) LatencyParams {
	key := [2]Country{from, to}
	if params, ok := m.cache[key]; ok {
		return params
	}

	baseMs := 100.0
	if row, ok := m.raw[from]; ok && hasKey(row, to) {
		baseMs = row[to]
	} else if ok && hasKey(row, "default") {
		baseMs = row["default"]
	} else if row, ok := m.raw[to]; ok && hasKey(row, from) {
		baseMs = row[from]
	} else if ok && hasKey(row, "default") {
		baseMs = row["default"]
	}

	params := LatencyParams{BaseMs: baseMs, JitterRatio: jitterRatio(baseMs)}
	m.cache[key] = params
	return params
}

// Countries returns every country named in the table, sorted.
func (m *LatencyModel) Countries() []Country {
	seen := make(map[Country]bool)
	for country, row := range m.raw {
		if country != "default" {
			seen[country] = true
		}
		for dest := range row {
			if dest != "default" {
				seen[dest] = true
			}
		}
	}
	countries := make([]Country, 0, len(seen))
	for country := range seen {
		countries = append(countries, country)
	}
	sort.Strings(countries)
	return countries
}

func hasKey(row map[string]float64, key string) bool {
	_, ok := row[key]
	return ok
}

// CountryWeights gives the node placement distribution: the probability of
// placing a node in a country is its weight over the sum of weights. Only
// listed countries receive nodes.
type CountryWeights struct {
	Weights map[Country]int
}

// NewCountryWeights wraps a weight table.
func NewCountryWeights(weights map[Country]int) *CountryWeights {
	return &CountryWeights{Weights: weights}
}

// LoadCountryWeights reads a JSON weight table from disk.
func LoadCountryWeights(path string) (*CountryWeights, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weight table %s: %w", path, err)
	}
	var weights map[Country]int
	if err := json.Unmarshal(blob, &weights); err != nil {
		return nil, fmt.Errorf("parse weight table %s: %w", path, err)
	}
	return NewCountryWeights(weights), nil
}

// Countries returns the weighted countries in sorted order.
func (w *CountryWeights) Countries() []Country {
	countries := make([]Country, 0, len(w.Weights))
	for country := range w.Weights {
		countries = append(countries, country)
	}
	sort.Strings(countries)
	return countries
}

// Total is the sum of all weights.
func (w *CountryWeights) Total() int {
	total := 0
	for _, weight := range w.Weights {
		total += weight
	}
	return total
}

// Normalized returns per-country probabilities summing to 1.
func (w *CountryWeights) Normalized() map[Country]float64 {
	total := float64(w.Total())
	probs := make(map[Country]float64, len(w.Weights))
	for country, weight := range w.Weights {
		probs[country] = float64(weight) / total
	}
	return probs
}
