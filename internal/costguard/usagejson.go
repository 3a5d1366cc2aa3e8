// Usage extraction from raw provider response bodies.
//
// DESIGN: Gateway callers sit between a chat client and the model provider
// and see responses as raw JSON. ParseUsage pulls the token counts out of
// either the Anthropic shape (usage.input_tokens / output_tokens /
// cache_read_input_tokens / cache_creation_input_tokens) or the OpenAI shape
// (usage.prompt_tokens / completion_tokens), so a response body can be fed
// straight into RecordUsage. AnnotateCost writes the computed cost back into
// the body before it is forwarded downstream.
package costguard

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseUsage extracts token usage from a provider response body.
// Returns ok=false when the body carries no usage block.
func ParseUsage(raw []byte) (TokenUsage, bool) {
	usage := gjson.GetBytes(raw, "usage")
	if !usage.Exists() {
		// Anthropic streaming message_start nests usage under message.
		usage = gjson.GetBytes(raw, "message.usage")
	}
	if !usage.Exists() {
		return TokenUsage{}, false
	}

	var u TokenUsage
	if v := usage.Get("input_tokens"); v.Exists() {
		// Anthropic shape
		u.InputTokens = int(v.Int())
		u.OutputTokens = int(usage.Get("output_tokens").Int())
		u.CacheReadTokens = int(usage.Get("cache_read_input_tokens").Int())
		u.CacheWriteTokens = int(usage.Get("cache_creation_input_tokens").Int())
		return u, true
	}
	if v := usage.Get("prompt_tokens"); v.Exists() {
		// OpenAI shape
		u.InputTokens = int(v.Int())
		u.OutputTokens = int(usage.Get("completion_tokens").Int())
		u.CacheReadTokens = int(usage.Get("prompt_tokens_details.cached_tokens").Int())
		// Cached tokens are included in prompt_tokens; bill them separately.
		u.InputTokens -= u.CacheReadTokens
		return u, true
	}
	return TokenUsage{}, false
}

// AnnotateCost sets usage.cost_usd in a provider response body so downstream
// consumers see what the call cost without resolving pricing themselves.
// On any set failure the body is returned unchanged.
func AnnotateCost(raw []byte, costUSD float64) []byte {
	out, err := sjson.SetBytes(raw, "usage.cost_usd", costUSD)
	if err != nil {
		return raw
	}
	return out
}
