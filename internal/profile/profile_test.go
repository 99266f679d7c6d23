package profile

import (
	"os"
	"testing"
)

func TestProfileDefaults(t *testing.T) {
	clearLLMEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"LLMProvider default", "openai", profile.LLMProvider},
		{"LLMBaseURL default", "https://api.openai.com/v1", profile.LLMBaseURL},
		{"LLMModel default", "gpt-4o", profile.LLMModel},
		{"LLMAuxModel falls back to LLMModel", "gpt-4o", profile.LLMAuxModel},
		{"LLMAPIKey default", "", profile.LLMAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.IsAIEnabled() {
		t.Error("IsAIEnabled should be false without an API key")
	}
	if profile.LLMTimeout != 120 {
		t.Errorf("LLMTimeout: expected 120, got %d", profile.LLMTimeout)
	}
	if profile.SessionTTL != 86400 {
		t.Errorf("SessionTTL: expected 86400, got %d", profile.SessionTTL)
	}
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "API key",
			envVar:   "LOOM_AI_LLM_API_KEY",
			envValue: "test-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-key",
		},
		{
			name:     "provider override",
			envVar:   "LOOM_AI_LLM_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.LLMBaseURL },
			expected: "https://api.deepseek.com",
		},
		{
			name:     "model override",
			envVar:   "LOOM_AI_LLM_MODEL",
			envValue: "gpt-4o-mini",
			field:    func(p *Profile) string { return p.LLMModel },
			expected: "gpt-4o-mini",
		},
		{
			name:     "aux model override",
			envVar:   "LOOM_AI_LLM_AUX_MODEL",
			envValue: "gpt-4o-mini",
			field:    func(p *Profile) string { return p.LLMAuxModel },
			expected: "gpt-4o-mini",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLLMEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			if got := tt.field(profile); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestUnknownProviderFallsBack(t *testing.T) {
	clearLLMEnvVars()
	os.Setenv("LOOM_AI_LLM_PROVIDER", "nonsense")
	defer os.Unsetenv("LOOM_AI_LLM_PROVIDER")

	profile := &Profile{}
	profile.FromEnv()

	if profile.LLMProvider != "openai" {
		t.Errorf("expected fallback to openai, got %q", profile.LLMProvider)
	}
}

func clearLLMEnvVars() {
	for _, key := range []string{
		"LOOM_AI_LLM_PROVIDER",
		"LOOM_AI_LLM_API_KEY",
		"LOOM_AI_LLM_BASE_URL",
		"LOOM_AI_LLM_MODEL",
		"LOOM_AI_LLM_AUX_MODEL",
		"LOOM_AI_LLM_TIMEOUT_SECONDS",
		"LOOM_SESSION_TTL_SECONDS",
	} {
		os.Unsetenv(key)
	}
}
