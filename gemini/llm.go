package gemini

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/room4-2/roomagent/voice"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// LLM generates replies with the Gemini API using the official SDK
type LLM struct {
	client *genai.Client
	model  string

	mu     sync.RWMutex
	closed bool
}

// Options configures the Gemini client. BaseURL is only set in tests.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewLLM creates a Gemini client for text generation
func NewLLM(ctx context.Context, opts Options) (*LLM, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is empty")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	log.Printf("✅ Gemini LLM ready (%s)", opts.Model)
	return &LLM{client: client, model: opts.Model}, nil
}

// Chat implements voice.LLM.
func (g *LLM) Chat(ctx context.Context, req voice.ChatRequest) (string, error) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("gemini client is closed")
	}

	contents, config := buildRequest(req)
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini: nothing to generate from")
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	log.Printf("📥 Received from Gemini: text '%s'", text)
	return text, nil
}

// buildRequest maps the chat request onto Gemini turns. The persona and the
// per-reply instructions are merged into the system instruction because the
// API only accepts user and model roles inside contents.
func buildRequest(req voice.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.RoleUser
		if m.Role == voice.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	var system []string
	if req.Persona != "" {
		system = append(system, req.Persona)
	}
	if req.Instructions != "" {
		system = append(system, req.Instructions)
	}

	// Gemini requires the conversation to end on a user turn.
	if len(contents) == 0 || contents[len(contents)-1].Role != string(genai.RoleUser) {
		if req.Instructions != "" {
			contents = append(contents, genai.NewContentFromText(req.Instructions, genai.RoleUser))
		}
	}

	var config *genai.GenerateContentConfig
	if len(system) > 0 {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{
					{Text: strings.Join(system, "\n\n")},
				},
			},
		}
	}
	return contents, config
}

// Close marks the client closed. The SDK client holds no persistent connection.
func (g *LLM) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}
