package costguard

import "strings"

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMTok  float64 // USD per million input tokens
	OutputPerMTok float64 // USD per million output tokens
}

// PricingResolver maps a provider+model pair to its pricing table.
// Returning ok=false means the model is unrecognized and the caller should
// fall back to DefaultPricing.
type PricingResolver interface {
	Resolve(provider, model string) (ModelPricing, bool)
}

// DefaultPricing is used for unrecognized models. Sonnet-class rates: cheap
// enough not to phantom-block every call, expensive enough not to let an
// unknown frontier model slip under a ceiling.
var DefaultPricing = ModelPricing{InputPerMTok: 3, OutputPerMTok: 15}

// modelPricingTable maps model names to their pricing.
var modelPricingTable = map[string]ModelPricing{
	// Claude 4.x (dated)
	"claude-opus-4-1-20250805":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-opus-4-0-20250514":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0-20250514": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5-20251001":  {InputPerMTok: 1, OutputPerMTok: 5},

	// Claude short aliases
	"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5},

	// Claude 3.x
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	// OpenAI
	"gpt-4o":                 {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-2024-11-20":      {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":            {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o-mini-2024-07-18": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
}

// modelFamilyPricing maps model family prefixes to pricing.
// Lookup takes the longest matching prefix so e.g. "gpt-4o-mini" ($0.15)
// wins over "gpt-4o" ($2.5) for a dated mini release.
var modelFamilyPricing = map[string]ModelPricing{
	// Version-specific families (must win over broad families)
	"claude-opus-4-1":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-opus-4-0":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	// Broad families (fallback)
	"claude-opus":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"gpt-4o-mini":   {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":        {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4":         {InputPerMTok: 10, OutputPerMTok: 30},
}

// TableResolver resolves pricing from the built-in table.
// Tries "provider/model", then the bare model name, then a family prefix
// match (longest prefix wins).
type TableResolver struct{}

// Resolve implements PricingResolver.
func (TableResolver) Resolve(provider, model string) (ModelPricing, bool) {
	if provider != "" {
		if p, ok := modelPricingTable[provider+"/"+model]; ok {
			return p, true
		}
	}
	if p, ok := modelPricingTable[model]; ok {
		return p, true
	}

	// Family/prefix match (longest prefix wins)
	bestPrefix := ""
	var bestPricing ModelPricing
	for prefix, p := range modelFamilyPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestPricing = p
		}
	}
	if bestPrefix != "" {
		return bestPricing, true
	}

	return ModelPricing{}, false
}

// CalculateCost computes the cost in USD from plain input/output token counts.
func CalculateCost(inputTokens, outputTokens int, pricing ModelPricing) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPerMTok
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPerMTok
	return inputCost + outputCost
}

// CalculateCostWithCache computes cost accounting for prompt-cache pricing.
// Non-cached input bills at full price, cache writes at 1.25x, cache reads
// at 0.1x the input rate.
func CalculateCostWithCache(usage TokenUsage, pricing ModelPricing) float64 {
	inputCost := float64(usage.InputTokens) / 1_000_000 * pricing.InputPerMTok
	outputCost := float64(usage.OutputTokens) / 1_000_000 * pricing.OutputPerMTok
	cacheWriteCost := float64(usage.CacheWriteTokens) / 1_000_000 * pricing.InputPerMTok * 1.25
	cacheReadCost := float64(usage.CacheReadTokens) / 1_000_000 * pricing.InputPerMTok * 0.1
	return inputCost + outputCost + cacheWriteCost + cacheReadCost
}

// CostTier returns a human-readable price tier for a model.
// Used for dashboard display and logging.
func CostTier(resolver PricingResolver, provider, model string) string {
	if model == "" {
		return "unknown"
	}
	pricing, ok := resolver.Resolve(provider, model)
	if !ok {
		pricing = DefaultPricing
	}
	switch {
	case pricing.InputPerMTok >= 10:
		return "premium" // Opus ($15), GPT-4 ($10)
	case pricing.InputPerMTok >= 2:
		return "standard" // Sonnet ($3), GPT-4o ($2.5)
	default:
		return "budget" // Haiku (<$1.5), GPT-4o-mini ($0.15)
	}
}
