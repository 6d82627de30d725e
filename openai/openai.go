// Package openai provides the STT, LLM and TTS plugins backed by the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"strings"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/room4-2/roomagent/voice"
)

// TTSSampleRate is the rate of raw PCM returned by the speech endpoint.
const TTSSampleRate = 24000

// NewClient creates an API client for the given key.
func NewClient(apiKey string, opts ...option.RequestOption) (*oai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is empty")
	}
	client := oai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &client, nil
}

// STT transcribes utterances with the audio transcription endpoint.
type STT struct {
	client *oai.Client
	model  string
}

// NewSTT returns an STT plugin using model (e.g. whisper-1).
func NewSTT(client *oai.Client, model string) *STT {
	return &STT{client: client, model: model}
}

// Recognize implements voice.STT.
func (s *STT) Recognize(ctx context.Context, samples []int16, sampleRate int) ([]voice.Alternative, error) {
	wav := EncodeWAV(samples, sampleRate)

	resp, err := s.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(s.model),
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, nil
	}
	log.Printf("📝 Transcribed %d samples: %q", len(samples), text)
	return []voice.Alternative{{Text: text, Confidence: 1}}, nil
}

// LLM generates replies with chat completions.
type LLM struct {
	client *oai.Client
	model  string
}

// NewLLM returns an LLM plugin using model (e.g. gpt-4o-mini).
func NewLLM(client *oai.Client, model string) *LLM {
	return &LLM{client: client, model: model}
}

// Chat implements voice.LLM.
func (l *LLM) Chat(ctx context.Context, req voice.ChatRequest) (string, error) {
	completion, err := l.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(l.model),
		Messages: chatMessages(req),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: no choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

func chatMessages(req voice.ChatRequest) []oai.ChatCompletionMessageParamUnion {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.Persona != "" {
		msgs = append(msgs, oai.SystemMessage(req.Persona))
	}
	for _, m := range req.History {
		switch m.Role {
		case voice.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Text))
		default:
			msgs = append(msgs, oai.UserMessage(m.Text))
		}
	}
	if req.Instructions != "" {
		msgs = append(msgs, oai.SystemMessage(req.Instructions))
	}
	return msgs
}

// TTS synthesizes speech as raw 24 kHz PCM.
type TTS struct {
	client *oai.Client
	model  string
	voice  string
}

// NewTTS returns a TTS plugin using model (e.g. tts-1) and voice (e.g. alloy).
func NewTTS(client *oai.Client, model, voiceName string) *TTS {
	return &TTS{client: client, model: model, voice: voiceName}
}

// Synthesize implements voice.TTS.
func (t *TTS) Synthesize(ctx context.Context, text string) (voice.Audio, error) {
	resp, err := t.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(t.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(t.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return voice.Audio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return voice.Audio{}, fmt.Errorf("read speech audio: %w", err)
	}
	return voice.Audio{Samples: DecodePCM16(raw), SampleRate: TTSSampleRate}, nil
}

// DecodePCM16 converts little-endian 16-bit PCM to samples. A trailing odd
// byte is ignored.
func DecodePCM16(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

// EncodeWAV wraps mono PCM16 samples in a canonical 44-byte WAV header.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	const headerSize = 44
	dataSize := len(samples) * 2
	buf := make([]byte, headerSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(s))
	}
	return buf
}
