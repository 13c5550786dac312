package session

import (
	providertypes "skyclaw/pkg/provider/types"
)

// usageAttrs flattens provider usage accounting into log attributes.
//
// Keeping this logic in one place avoids drift between the handler and any
// other prompt call site.
func usageAttrs(result providertypes.PromptResult) []any {
	attrs := []any{
		"provider", result.Metadata.Provider,
		"model", result.Metadata.Model,
	}

	usage := result.Metadata.Usage
	if usage == nil {
		return attrs
	}

	return append(attrs,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"total_tokens", usage.TotalTokens,
		"reasoning_tokens", usage.ReasoningTokens,
		"cache_creation_tokens", usage.CacheCreationTokens,
		"cache_read_tokens", usage.CacheReadTokens,
	)
}
