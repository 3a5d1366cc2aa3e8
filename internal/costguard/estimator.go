package costguard

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// charsPerToken is the fallback chars-per-token ratio used when the BPE
// encoding is unavailable (e.g. offline, no cached vocabulary).
const charsPerToken = 4

// messageOverheadTokens approximates the per-message framing cost
// (role markers, separators) on top of the text itself.
const messageOverheadTokens = 4

// EstimateInput describes the text of a prospective request.
type EstimateInput struct {
	Prompt       string
	SystemPrompt string
	History      []string
}

// Estimator converts token counts and text into approximate USD costs
// before a call, and measured token usage into exact costs after it.
type Estimator struct {
	pricing PricingResolver

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewEstimator creates an estimator backed by the given pricing resolver.
func NewEstimator(pricing PricingResolver) *Estimator {
	return &Estimator{pricing: pricing}
}

// encoding lazily loads the cl100k_base BPE. Loading can touch the network
// on first use, so failure degrades to the character-ratio heuristic.
func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Debug().Err(err).Msg("costguard: BPE encoding unavailable, using char-ratio token estimates")
			return
		}
		e.enc = enc
	})
	return e.enc
}

// countTokens returns the token count for a single piece of text.
func (e *Estimator) countTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateTokens approximates the input token count of a request from its
// prompt, system prompt, and prior history. Each message carries a small
// fixed framing overhead, so adding history strictly increases the estimate.
func (e *Estimator) EstimateTokens(in EstimateInput) int {
	total := 0
	if in.Prompt != "" {
		total += e.countTokens(in.Prompt) + messageOverheadTokens
	}
	if in.SystemPrompt != "" {
		total += e.countTokens(in.SystemPrompt) + messageOverheadTokens
	}
	for _, msg := range in.History {
		total += e.countTokens(msg) + messageOverheadTokens
	}
	return total
}

// ApproxCost converts an estimated token count into an approximate USD cost
// before the call is made. The exact input/output split is unknown at this
// point, so a 50/50 split is assumed. Unrecognized models use DefaultPricing.
func (e *Estimator) ApproxCost(estimatedTokens int, provider, model string) float64 {
	if estimatedTokens <= 0 {
		return 0
	}
	pricing, ok := e.pricing.Resolve(provider, model)
	if !ok {
		pricing = DefaultPricing
	}
	half := float64(estimatedTokens) / 2
	return half/1_000_000*pricing.InputPerMTok + half/1_000_000*pricing.OutputPerMTok
}

// ExactCost converts measured token usage into an exact USD cost.
func (e *Estimator) ExactCost(usage TokenUsage, provider, model string) float64 {
	pricing, ok := e.pricing.Resolve(provider, model)
	if !ok {
		pricing = DefaultPricing
	}
	return CalculateCostWithCache(usage, pricing)
}
