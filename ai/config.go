package ai

import "github.com/hrygo/loom/internal/profile"

// ConfigFromProfile builds the LLM client configuration for the primary
// chat model.
func ConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Provider: p.LLMProvider,
		Model:    p.LLMModel,
		APIKey:   p.LLMAPIKey,
		BaseURL:  p.LLMBaseURL,
		Timeout:  p.LLMTimeout,
	}
}

// AuxConfigFromProfile builds the configuration for the small auxiliary
// model used for titles and follow-up suggestions. It falls back to the
// primary model when no auxiliary model is configured.
func AuxConfigFromProfile(p *profile.Profile) *Config {
	cfg := ConfigFromProfile(p)
	if p.LLMAuxModel != "" {
		cfg.Model = p.LLMAuxModel
	}
	return cfg
}
