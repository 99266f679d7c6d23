package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCostKnownModel(t *testing.T) {
	// 1M input + 1M output tokens of gpt-4o-mini.
	cost := EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 0.75, cost, 0.0001)
}

func TestEstimateCostLongestPrefixWins(t *testing.T) {
	// gpt-4o-mini must not be priced as gpt-4o.
	mini := EstimateCost("gpt-4o-mini-2024-07-18", 1_000_000, 0)
	assert.InDelta(t, 0.15, mini, 0.0001)

	full := EstimateCost("gpt-4o-2024-08-06", 1_000_000, 0)
	assert.InDelta(t, 2.50, full, 0.0001)
}

func TestEstimateCostUnknownModel(t *testing.T) {
	assert.Zero(t, EstimateCost("super-secret-model", 500, 500))
}

func TestEstimateCostCaseInsensitive(t *testing.T) {
	assert.Positive(t, EstimateCost("DeepSeek-Chat", 1000, 1000))
}

func TestEstimateCostZeroTokens(t *testing.T) {
	assert.Zero(t, EstimateCost("gpt-4o", 0, 0))
}

func TestResolveSamplingDefaults(t *testing.T) {
	s := ResolveSampling(nil, nil, 0, false)
	assert.InDelta(t, 0.7, s.Temperature, 0.001)
	assert.Zero(t, s.TopP)
	assert.Equal(t, 4096, s.MaxTokens)
}

func TestResolveSamplingTopPPrecedence(t *testing.T) {
	temp := float32(0.3)
	topP := float32(0.85)
	s := ResolveSampling(&temp, &topP, 0, false)
	assert.InDelta(t, 0.85, s.TopP, 0.001)
	assert.InDelta(t, 1.0, s.Temperature, 0.001)
}

func TestResolveSamplingReasoningFloor(t *testing.T) {
	temp := float32(0.2)
	s := ResolveSampling(&temp, nil, 1024, true)
	assert.True(t, s.Reasoning)
	assert.InDelta(t, 1.0, s.Temperature, 0.001)
	assert.Equal(t, reasoningMinMaxTokens, s.MaxTokens)
	assert.Zero(t, s.TopP)
}
