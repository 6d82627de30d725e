// Package plugins builds the component set of an agent session from config.
package plugins

import (
	"context"
	"fmt"
	"log"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/gemini"
	"github.com/room4-2/roomagent/openai"
	"github.com/room4-2/roomagent/vad"
	"github.com/room4-2/roomagent/voice"
)

// Factories construct each plugin. Tests replace them with fakes.
type Factories struct {
	VAD func() (voice.VAD, error)
	STT func(ctx context.Context, cfg config.AgentConfig) (voice.STT, error)
	LLM func(ctx context.Context, cfg config.AgentConfig) (voice.LLM, error)
	TTS func(ctx context.Context, cfg config.AgentConfig) (voice.TTS, error)
}

// DefaultFactories wires the energy VAD, the OpenAI speech plugins and the
// configured LLM provider.
func DefaultFactories() Factories {
	return Factories{
		VAD: func() (voice.VAD, error) {
			return vad.Load(vad.DefaultOptions())
		},
		STT: func(_ context.Context, cfg config.AgentConfig) (voice.STT, error) {
			client, err := openai.NewClient(cfg.OpenAIAPIKey)
			if err != nil {
				return nil, err
			}
			return openai.NewSTT(client, cfg.STTModel), nil
		},
		LLM: func(ctx context.Context, cfg config.AgentConfig) (voice.LLM, error) {
			if cfg.LLMProvider == config.ProviderGemini {
				return gemini.NewLLM(ctx, gemini.Options{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
			}
			client, err := openai.NewClient(cfg.OpenAIAPIKey)
			if err != nil {
				return nil, err
			}
			return openai.NewLLM(client, cfg.Model), nil
		},
		TTS: func(_ context.Context, cfg config.AgentConfig) (voice.TTS, error) {
			client, err := openai.NewClient(cfg.OpenAIAPIKey)
			if err != nil {
				return nil, err
			}
			return openai.NewTTS(client, cfg.TTSModel, cfg.TTSVoice), nil
		},
	}
}

// Build constructs the components for one job. VAD is always built and its
// failure is returned. STT and TTS need OpenAI credentials, the LLM needs
// credentials for the selected provider. A failing optional plugin is logged
// and left out, so the session runs with reduced capabilities.
func Build(ctx context.Context, cfg config.AgentConfig, f Factories) (voice.Components, error) {
	var comps voice.Components

	v, err := f.VAD()
	if err != nil {
		return voice.Components{}, fmt.Errorf("load vad: %w", err)
	}
	comps.VAD = v

	if cfg.HasOpenAICredentials() {
		if stt, err := f.STT(ctx, cfg); err != nil {
			log.Printf("⚠️ STT unavailable: %v", err)
		} else {
			comps.STT = stt
		}
		if tts, err := f.TTS(ctx, cfg); err != nil {
			log.Printf("⚠️ TTS unavailable: %v", err)
		} else {
			comps.TTS = tts
		}
	} else {
		log.Println("⚠️ OPENAI_API_KEY not set, agent will listen without transcribing or speaking")
	}

	if cfg.HasLLMCredentials() {
		if llm, err := f.LLM(ctx, cfg); err != nil {
			log.Printf("⚠️ LLM unavailable (%s): %v", cfg.LLMProvider, err)
		} else {
			comps.LLM = llm
		}
	} else {
		log.Printf("⚠️ No credentials for LLM provider %s, agent will not reply", cfg.LLMProvider)
	}

	log.Printf("🧩 Session capabilities: %s", comps.Capabilities())
	return comps, nil
}
