package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultInstructions is the agent persona used when AGENT_INSTRUCTIONS is unset.
const DefaultInstructions = "You are a helpful assistant living inside a LiveKit room. " +
	"Keep replies short and conversational."

const (
	DefaultModel      = "gpt-4o-mini"
	DefaultRoomName   = "default-room"
	DefaultLiveKitURL = "ws://localhost:7880"
)

// LLM providers accepted in LLM_PROVIDER
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// AgentConfig is the per-process agent settings record. It is built once at
// startup and handed to every job by value.
type AgentConfig struct {
	Instructions     string
	Model            string
	RoomName         string
	LiveKitURL       string
	APIKey           string
	APISecret        string
	OpenAIAPIKey     string
	LLMProvider      string
	GeminiAPIKey     string
	GeminiModel      string
	STTModel         string
	TTSModel         string
	TTSVoice         string
	MaxUtteranceSize int
}

// HasOpenAICredentials reports whether an OpenAI key is configured.
func (c AgentConfig) HasOpenAICredentials() bool {
	return c.OpenAIAPIKey != ""
}

// HasLLMCredentials reports whether the selected LLM provider has a key.
func (c AgentConfig) HasLLMCredentials() bool {
	if c.LLMProvider == ProviderGemini {
		return c.GeminiAPIKey != ""
	}
	return c.HasOpenAICredentials()
}

// HasLiveKitCredentials reports whether both LiveKit API key and secret are set.
func (c AgentConfig) HasLiveKitCredentials() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// LoadAgentConfig reads the agent settings through getenv. Missing variables
// fall back to their defaults; it never fails.
func LoadAgentConfig(getenv func(string) string) AgentConfig {
	cfg := AgentConfig{
		Instructions:     DefaultInstructions,
		Model:            DefaultModel,
		RoomName:         DefaultRoomName,
		LiveKitURL:       DefaultLiveKitURL,
		LLMProvider:      ProviderOpenAI,
		GeminiModel:      "gemini-2.5-flash",
		STTModel:         "whisper-1",
		TTSModel:         "tts-1",
		TTSVoice:         "alloy",
		MaxUtteranceSize: 5 * 1024 * 1024,
	}

	if v := getenv("AGENT_INSTRUCTIONS"); v != "" {
		cfg.Instructions = v
	}
	if v := getenv("OPENAI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := getenv("LIVEKIT_ROOM_NAME"); v != "" {
		cfg.RoomName = v
	}
	if v := getenv("LIVEKIT_URL"); v != "" {
		cfg.LiveKitURL = v
	}
	if v := strings.ToLower(getenv("LLM_PROVIDER")); v == ProviderGemini {
		cfg.LLMProvider = ProviderGemini
	}
	if v := getenv("GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = v
	}
	if v := getenv("OPENAI_STT_MODEL"); v != "" {
		cfg.STTModel = v
	}
	if v := getenv("OPENAI_TTS_MODEL"); v != "" {
		cfg.TTSModel = v
	}
	if v := getenv("OPENAI_TTS_VOICE"); v != "" {
		cfg.TTSVoice = v
	}
	if v := getenv("MAX_UTTERANCE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxUtteranceSize = n
		}
	}

	cfg.APIKey = getenv("LIVEKIT_API_KEY")
	cfg.APISecret = getenv("LIVEKIT_API_SECRET")
	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = getenv("GEMINI_API_KEY")

	return cfg
}

// Config holds the worker process configuration
type Config struct {
	Agent          AgentConfig
	Port           int
	RedisURL       string
	RedisPassword  string
	MaxJobs        int
	AgentName      string
	AutoJoin       bool
	AllowedOrigins []string
	TokenTTL       time.Duration
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()
	return loadFrom(os.Getenv)
}

func loadFrom(getenv func(string) string) (*Config, error) {
	config := &Config{
		Agent:          LoadAgentConfig(getenv),
		Port:           8080,
		RedisURL:       "localhost:6379",
		MaxJobs:        25,
		AgentName:      "voice-agent",
		AllowedOrigins: []string{"*"},
		TokenTTL:       time.Hour,
	}

	if !config.Agent.HasLiveKitCredentials() {
		log.Println("⚠️ LIVEKIT_API_KEY / LIVEKIT_API_SECRET not set, room joins and tokens will fail")
	}

	// Optional: PORT
	if port := getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	if redisURL := getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	config.RedisPassword = getenv("REDIS_PASSWORD")

	if maxJobs := getenv("MAX_JOBS"); maxJobs != "" {
		m, err := strconv.Atoi(maxJobs)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_JOBS: %w", err)
		}
		if m <= 0 {
			return nil, fmt.Errorf("invalid MAX_JOBS: must be positive")
		}
		config.MaxJobs = m
	}

	if name := getenv("AGENT_NAME"); name != "" {
		config.AgentName = name
	}

	if autoJoin := getenv("AUTO_JOIN"); autoJoin != "" {
		b, err := strconv.ParseBool(autoJoin)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_JOIN: %w", err)
		}
		config.AutoJoin = b
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: TOKEN_TTL_MINUTES
	if ttl := getenv("TOKEN_TTL_MINUTES"); ttl != "" {
		t, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_TTL_MINUTES: %w", err)
		}
		if t <= 0 {
			return nil, fmt.Errorf("invalid TOKEN_TTL_MINUTES: must be positive")
		}
		config.TokenTTL = time.Duration(t) * time.Minute
	}

	if p := strings.ToLower(getenv("LLM_PROVIDER")); p != "" && p != ProviderOpenAI && p != ProviderGemini {
		return nil, fmt.Errorf("invalid LLM_PROVIDER: must be 'openai' or 'gemini'")
	}

	return config, nil
}
