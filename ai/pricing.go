package ai

import "strings"

// modelPrice holds USD prices per million tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

// modelPrices maps model id prefixes to their price points. Longest prefix
// wins so dated snapshots can override a family-wide entry.
var modelPrices = map[string]modelPrice{
	"gpt-4o":            {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
	"gpt-4.1":           {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":      {Input: 0.40, Output: 1.60},
	"o3":                {Input: 2.00, Output: 8.00},
	"deepseek-chat":     {Input: 0.27, Output: 1.10},
	"deepseek-reasoner": {Input: 0.55, Output: 2.19},
	"claude-sonnet":     {Input: 3.00, Output: 15.00},
	"claude-haiku":      {Input: 0.80, Output: 4.00},
	"claude-opus":       {Input: 15.00, Output: 75.00},
	"qwen":              {Input: 0.40, Output: 1.20},
	"glm":               {Input: 0.60, Output: 2.20},
}

// EstimateCost returns the estimated USD cost of one completed turn.
// Unknown models cost zero; the record still carries the token counts so
// the estimate can be recomputed once a price is known.
func EstimateCost(model string, inputTokens, outputTokens int32) float64 {
	price, ok := lookupPrice(model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*price.Input + float64(outputTokens)*price.Output) / 1_000_000
}

func lookupPrice(model string) (modelPrice, bool) {
	model = strings.ToLower(model)

	var bestPrefix string
	var best modelPrice
	for prefix, price := range modelPrices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			best = price
		}
	}
	if bestPrefix == "" {
		return modelPrice{}, false
	}
	return best, true
}
