package provider

import (
	"math"
	"strings"

	"github.com/canvasgate/canvasgate/internal/model"
)

// Price is a per-million-token rate in USD.
type Price struct {
	Input  float64
	Output float64
}

// prices are matched by longest model-name prefix within a provider.
var prices = map[model.Provider]map[string]Price{
	model.ProviderOpenAI: {
		"gpt-4o":       {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":  {Input: 0.15, Output: 0.60},
		"gpt-4.1":      {Input: 2.00, Output: 8.00},
		"gpt-4.1-mini": {Input: 0.40, Output: 1.60},
		"gpt-4.1-nano": {Input: 0.10, Output: 0.40},
		"o3-mini":      {Input: 1.10, Output: 4.40},
		"gpt-3.5":      {Input: 0.50, Output: 1.50},
	},
	model.ProviderAnthropic: {
		"claude-3-5-haiku":  {Input: 0.80, Output: 4.00},
		"claude-3-5-sonnet": {Input: 3.00, Output: 15.00},
		"claude-3-7-sonnet": {Input: 3.00, Output: 15.00},
		"claude-sonnet-4":   {Input: 3.00, Output: 15.00},
		"claude-opus-4":     {Input: 15.00, Output: 75.00},
		"claude-3-haiku":    {Input: 0.25, Output: 1.25},
	},
	model.ProviderGoogle: {
		"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
		"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
		"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},
		"gemini-1.5-flash": {Input: 0.075, Output: 0.30},
	},
}

// fallbackPrices apply to models missing from the table.
var fallbackPrices = map[model.Provider]Price{
	model.ProviderOpenAI:    {Input: 2.50, Output: 10.00},
	model.ProviderAnthropic: {Input: 3.00, Output: 15.00},
	model.ProviderGoogle:    {Input: 0.30, Output: 2.50},
}

// PriceFor returns the rate for a provider's model.
func PriceFor(p model.Provider, modelName string) Price {
	best, bestLen := fallbackPrices[p], 0
	for prefix, price := range prices[p] {
		if strings.HasPrefix(modelName, prefix) && len(prefix) > bestLen {
			best, bestLen = price, len(prefix)
		}
	}
	return best
}

// EstimateCost returns the USD cost of usage, rounded to micro-dollars.
func EstimateCost(p model.Provider, modelName string, usage model.TokenUsage) float64 {
	price := PriceFor(p, modelName)
	cost := (float64(usage.InputTokens)*price.Input + float64(usage.OutputTokens)*price.Output) / 1e6
	return math.Round(cost*1e6) / 1e6
}
