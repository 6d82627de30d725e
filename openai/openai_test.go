package openai

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/roomagent/voice"
)

func testClient(t *testing.T, h http.HandlerFunc) *STT {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := NewClient("sk-test", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)
	return NewSTT(client, "whisper-1")
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestEncodeWAV(t *testing.T) {
	wav := EncodeWAV([]int16{1, -1, 300}, 16000)

	require.Len(t, wav, 44+6)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, []int16{1, -1, 300}, DecodePCM16(wav[44:]))
}

func TestDecodePCM16IgnoresOddByte(t *testing.T) {
	assert.Equal(t, []int16{256}, DecodePCM16([]byte{0x00, 0x01, 0x7f}))
	assert.Empty(t, DecodePCM16(nil))
}

func TestChatMessagesOrder(t *testing.T) {
	msgs := chatMessages(voice.ChatRequest{
		Persona:      "persona",
		Instructions: "reply now",
		History: []voice.Message{
			{Role: voice.RoleUser, Text: "hi"},
			{Role: voice.RoleAssistant, Text: "hello"},
		},
	})
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfSystem)

	assert.Empty(t, chatMessages(voice.ChatRequest{}))
}

func TestRecognize(t *testing.T) {
	stt := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/audio/transcriptions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" what time is it? "}`))
	})

	alts, err := stt.Recognize(context.Background(), make([]int16, 160), 16000)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, "what time is it?", alts[0].Text)
}

func TestRecognizeSilence(t *testing.T) {
	stt := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":""}`))
	})

	alts, err := stt.Recognize(context.Background(), make([]int16, 160), 16000)
	require.NoError(t, err)
	assert.Empty(t, alts)
}

func TestChat(t *testing.T) {
	stt := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Hi there!"}}]
		}`))
	})

	llm := NewLLM(stt.client, "gpt-4o-mini")
	reply, err := llm.Chat(context.Background(), voice.ChatRequest{Instructions: "greet"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)
}

func TestChatServerError(t *testing.T) {
	stt := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	})

	_, err := NewLLM(stt.client, "nope").Chat(context.Background(), voice.ChatRequest{Instructions: "x"})
	assert.ErrorContains(t, err, "openai chat completion")
}

func TestSynthesize(t *testing.T) {
	stt := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/audio/speech"))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x01, 0x00, 0xff, 0xff})
	})

	audio, err := NewTTS(stt.client, "tts-1", "alloy").Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, TTSSampleRate, audio.SampleRate)
	assert.Equal(t, []int16{1, -1}, audio.Samples)
}
