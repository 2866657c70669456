package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID             string   `json:"id"`
	Provider       string   `json:"provider"`
	DisplayName    string   `json:"display_name"`
	ContextWindow  int      `json:"context_window"`
	MaxOutput      *int     `json:"max_output,omitempty"`
	SupportsVision bool     `json:"supports_vision"`
	Aliases        []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int { return &v }

// Models is the built-in model catalog. The first entry for each provider is
// the one used when no model is configured.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o-2024-08-06", Provider: "openai", DisplayName: "GPT-4o (2024-08-06)",
		ContextWindow: 128000, MaxOutput: intPtr(16384), SupportsVision: true,
		Aliases: []string{"gpt-4o"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: intPtr(16384), SupportsVision: true,
		Aliases: []string{"mini"},
	},

	// Anthropic
	{
		ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Sonnet",
		ContextWindow: 200000, MaxOutput: intPtr(8192), SupportsVision: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-3-5-haiku-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		Aliases: []string{"haiku", "claude-haiku"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// GetLatestModel returns the preferred model for a provider. When vision is
// true only models that accept image input are considered.
func GetLatestModel(provider string, vision bool) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		if vision && !Models[i].SupportsVision {
			continue
		}
		return &Models[i]
	}
	return nil
}
