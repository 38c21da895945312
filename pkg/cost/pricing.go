// Package cost prices model token usage in USD. Rates are per million
// tokens: a built-in table is matched by substring, and config can pin
// exact models to custom rates.
package cost

import (
	"math"
	"strings"
)

// ModelPrice holds per-million-token rates for one model.
type ModelPrice struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// defaultPrice is a named entry in the default pricing table.
type defaultPrice struct {
	key   string
	price ModelPrice
}

// defaultPrices is an ordered list for substring matching.
// The first match wins, so more specific keys come before their prefixes.
var defaultPrices = []defaultPrice{
	// Anthropic
	{"claude-opus-4", ModelPrice{Input: 15.0, Output: 75.0}},
	{"claude-sonnet-4", ModelPrice{Input: 3.0, Output: 15.0}},
	{"claude-3.5-sonnet", ModelPrice{Input: 3.0, Output: 15.0}},
	{"claude-haiku", ModelPrice{Input: 0.25, Output: 1.25}},

	// OpenAI
	{"gpt-4.1-mini", ModelPrice{Input: 0.40, Output: 1.60}},
	{"gpt-4.1-nano", ModelPrice{Input: 0.10, Output: 0.40}},
	{"gpt-4.1", ModelPrice{Input: 2.0, Output: 8.0}},
	{"gpt-4o-mini", ModelPrice{Input: 0.15, Output: 0.60}},
	{"gpt-4o", ModelPrice{Input: 5.0, Output: 15.0}},
	{"o4-mini", ModelPrice{Input: 1.10, Output: 4.40}},
	{"o3", ModelPrice{Input: 2.0, Output: 8.0}},

	// Google
	{"gemini-2.5-pro", ModelPrice{Input: 1.25, Output: 10.0}},
	{"gemini-2.5-flash", ModelPrice{Input: 0.30, Output: 2.50}},
	{"gemini-2.0-flash", ModelPrice{Input: 0.10, Output: 0.40}},
}

// PriceForModel returns the rates for a model name. Overrides are checked
// first by exact match, then the default table is searched by substring.
// An unknown model prices at zero.
func PriceForModel(model string, overrides map[string]ModelPrice) ModelPrice {
	if p, ok := overrides[model]; ok {
		return p
	}
	lower := strings.ToLower(model)
	for _, dp := range defaultPrices {
		if strings.Contains(lower, dp.key) {
			return dp.price
		}
	}
	return ModelPrice{}
}

// ForUsage returns the USD cost of one call's token usage under the
// resolved rates for model.
func ForUsage(model string, inputTokens, outputTokens int64, overrides map[string]ModelPrice) float64 {
	price := PriceForModel(model, overrides)
	in := sanitizeRate(price.Input)
	out := sanitizeRate(price.Output)
	return float64(inputTokens)/1_000_000*in + float64(outputTokens)/1_000_000*out
}

// sanitizeRate zeroes rates that cannot be charged.
func sanitizeRate(rate float64) float64 {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return 0
	}
	return rate
}
