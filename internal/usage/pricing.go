package usage

import (
	"strings"

	"toolgate/config"
	"toolgate/internal/core"
)

// defaultPrices are USD per million tokens. Config entries override them.
var defaultPrices = map[string]config.ModelPrice{
	"gpt-4o":           {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":      {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":          {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"gpt-4.1-mini":     {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"o3":               {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"o4-mini":          {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"claude-opus-4":    {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-sonnet-4":  {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku": {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"gemini-2.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"gemini-2.5-flash": {InputPerMTok: 0.30, OutputPerMTok: 2.50},
	"gemini-2.0-flash": {InputPerMTok: 0.10, OutputPerMTok: 0.40},
}

// Pricing resolves per-model rates. Lookup falls back to the longest
// configured prefix, so dated snapshots such as "gpt-4o-2024-08-06" are
// priced as "gpt-4o". It is read-only after construction.
type Pricing struct {
	prices map[string]config.ModelPrice
}

// NewPricing merges overrides over the built-in table.
func NewPricing(overrides map[string]config.ModelPrice) *Pricing {
	prices := make(map[string]config.ModelPrice, len(defaultPrices)+len(overrides))
	for model, p := range defaultPrices {
		prices[model] = p
	}
	for model, p := range overrides {
		prices[strings.ToLower(model)] = p
	}
	return &Pricing{prices: prices}
}

// Lookup returns the rate for model.
func (p *Pricing) Lookup(model string) (config.ModelPrice, bool) {
	model = strings.ToLower(strings.TrimPrefix(model, "models/"))
	if price, ok := p.prices[model]; ok {
		return price, true
	}
	best := ""
	for candidate := range p.prices {
		if strings.HasPrefix(model, candidate) && len(candidate) > len(best) {
			best = candidate
		}
	}
	if best == "" {
		return config.ModelPrice{}, false
	}
	return p.prices[best], true
}

// Cost prices one call. Unknown models cost zero. The provider argument
// keeps the signature compatible with per-provider tables.
func (p *Pricing) Cost(_ string, model string, u core.TokenUsage) float64 {
	price, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return float64(u.PromptOrInput())*price.InputPerMTok/1e6 +
		float64(u.CompletionOrOutput())*price.OutputPerMTok/1e6
}
