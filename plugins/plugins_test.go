package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/voice"
)

type stubVAD struct{}

func (stubVAD) NewStream() voice.VADStream { return nil }

type stubSTT struct{}

func (stubSTT) Recognize(context.Context, []int16, int) ([]voice.Alternative, error) {
	return nil, nil
}

type stubLLM struct{}

func (stubLLM) Chat(context.Context, voice.ChatRequest) (string, error) { return "", nil }

type stubTTS struct{}

func (stubTTS) Synthesize(context.Context, string) (voice.Audio, error) { return voice.Audio{}, nil }

// countingFactories records which constructors ran.
func countingFactories(calls map[string]int) Factories {
	return Factories{
		VAD: func() (voice.VAD, error) { calls["vad"]++; return stubVAD{}, nil },
		STT: func(context.Context, config.AgentConfig) (voice.STT, error) {
			calls["stt"]++
			return stubSTT{}, nil
		},
		LLM: func(context.Context, config.AgentConfig) (voice.LLM, error) {
			calls["llm"]++
			return stubLLM{}, nil
		},
		TTS: func(context.Context, config.AgentConfig) (voice.TTS, error) {
			calls["tts"]++
			return stubTTS{}, nil
		},
	}
}

func TestBuildWithoutCredentials(t *testing.T) {
	calls := map[string]int{}
	comps, err := Build(context.Background(), config.AgentConfig{}, countingFactories(calls))
	require.NoError(t, err)

	assert.Equal(t, "vad", comps.Capabilities().String())
	assert.Equal(t, map[string]int{"vad": 1}, calls)
}

func TestBuildWithOpenAI(t *testing.T) {
	calls := map[string]int{}
	cfg := config.AgentConfig{OpenAIAPIKey: "sk", LLMProvider: config.ProviderOpenAI}
	comps, err := Build(context.Background(), cfg, countingFactories(calls))
	require.NoError(t, err)

	assert.Equal(t, "vad+stt+llm+tts", comps.Capabilities().String())
}

func TestBuildGeminiWithoutOpenAI(t *testing.T) {
	calls := map[string]int{}
	cfg := config.AgentConfig{GeminiAPIKey: "g", LLMProvider: config.ProviderGemini}
	comps, err := Build(context.Background(), cfg, countingFactories(calls))
	require.NoError(t, err)

	assert.Equal(t, "vad+llm", comps.Capabilities().String())
	assert.Zero(t, calls["stt"])
}

func TestBuildVADFailureIsFatal(t *testing.T) {
	f := countingFactories(map[string]int{})
	f.VAD = func() (voice.VAD, error) { return nil, errors.New("no model") }

	_, err := Build(context.Background(), config.AgentConfig{OpenAIAPIKey: "sk"}, f)
	assert.ErrorContains(t, err, "no model")
}

func TestBuildOptionalFailureDegrades(t *testing.T) {
	f := countingFactories(map[string]int{})
	f.TTS = func(context.Context, config.AgentConfig) (voice.TTS, error) {
		return nil, errors.New("tts down")
	}

	comps, err := Build(context.Background(), config.AgentConfig{OpenAIAPIKey: "sk"}, f)
	require.NoError(t, err)

	cs := comps.Capabilities()
	assert.True(t, cs.Has(voice.CapSTT))
	assert.True(t, cs.Has(voice.CapLLM))
	assert.False(t, cs.Has(voice.CapTTS))
}

func TestDefaultFactoriesBuildRealPlugins(t *testing.T) {
	cfg := config.LoadAgentConfig(func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "sk-test"
		}
		return ""
	})

	comps, err := Build(context.Background(), cfg, DefaultFactories())
	require.NoError(t, err)
	assert.Equal(t, "vad+stt+llm+tts", comps.Capabilities().String())
}
