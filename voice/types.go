// Package voice adapts a LiveKit room and a set of speech/LLM plugins into a
// conversational agent session that produces a stream of turn events.
package voice

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrCapabilityMissing is returned when an operation needs a plugin the
	// session was built without.
	ErrCapabilityMissing = errors.New("capability not available")
	ErrNotStarted        = errors.New("session not started")
	ErrAlreadyStarted    = errors.New("session already started")
)

// Frame is a chunk of mono PCM16 audio from one participant.
type Frame struct {
	Participant string
	Samples     []int16
	SampleRate  int
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Audio is synthesized speech ready to be played into the room.
type Audio struct {
	Samples    []int16
	SampleRate int
}

// VADSignal is the transition reported for a pushed frame.
type VADSignal int

const (
	VADNone VADSignal = iota
	VADSpeechStart
	VADSpeechEnd
)

// VAD creates per-participant detectors.
type VAD interface {
	NewStream() VADStream
}

// VADStream consumes frames in order and reports speech boundaries.
type VADStream interface {
	Push(f Frame) VADSignal
	Speaking() bool
}

// Alternative is one candidate transcription of an utterance.
type Alternative struct {
	Text       string
	Confidence float64
	Language   string
}

// STT turns a finished utterance into transcription alternatives, best first.
type STT interface {
	Recognize(ctx context.Context, samples []int16, sampleRate int) ([]Alternative, error)
}

// Role of a chat history entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat history entry.
type Message struct {
	Role Role
	Text string
}

// ChatRequest is what a session hands to the LLM for one reply.
type ChatRequest struct {
	// Persona is the long-lived agent instructions.
	Persona string
	// Instructions steer this specific reply.
	Instructions string
	History      []Message
}

// LLM produces a text reply.
type LLM interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// TTS synthesizes speech for a reply.
type TTS interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Capability is one pipeline stage.
type Capability uint8

const (
	CapVAD Capability = 1 << iota
	CapSTT
	CapLLM
	CapTTS
)

// Capabilities is the set of stages a session was built with.
type Capabilities uint8

// Has reports whether every capability in c is in the set.
func (cs Capabilities) Has(c Capability) bool {
	return uint8(cs)&uint8(c) == uint8(c)
}

// With returns the set with c added.
func (cs Capabilities) With(c Capability) Capabilities {
	return Capabilities(uint8(cs) | uint8(c))
}

func (cs Capabilities) String() string {
	names := []struct {
		c    Capability
		name string
	}{{CapVAD, "vad"}, {CapSTT, "stt"}, {CapLLM, "llm"}, {CapTTS, "tts"}}

	var parts []string
	for _, n := range names {
		if cs.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Components holds the plugins of one session. Only VAD is mandatory.
type Components struct {
	VAD VAD
	STT STT
	LLM LLM
	TTS TTS
}

// Capabilities derives the capability set from the non-nil plugins.
func (c Components) Capabilities() Capabilities {
	var cs Capabilities
	if c.VAD != nil {
		cs = cs.With(CapVAD)
	}
	if c.STT != nil {
		cs = cs.With(CapSTT)
	}
	if c.LLM != nil {
		cs = cs.With(CapLLM)
	}
	if c.TTS != nil {
		cs = cs.With(CapTTS)
	}
	return cs
}

// EventKind discriminates session events.
type EventKind string

const (
	EventUserStartedSpeaking  EventKind = "user_started_speaking"
	EventUserStoppedSpeaking  EventKind = "user_stopped_speaking"
	EventUserSpeechCommitted  EventKind = "user_speech_committed"
	EventAgentSpeechCommitted EventKind = "agent_speech_committed"
)

// Event is one item of a session's event stream.
type Event struct {
	Kind        EventKind
	Participant string
	// Alternatives is set for EventUserSpeechCommitted.
	Alternatives []Alternative
	// Text is set for EventAgentSpeechCommitted.
	Text string
	At   time.Time
}

// EventStream is a single-pass sequence of events. Next blocks until an
// event is available. It returns io.EOF once the stream has ended normally
// and any other error when the session was aborted.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
}

// Transcript is a line of conversation mirrored to room participants.
type Transcript struct {
	Participant string
	Role        Role
	Text        string
	Final       bool
}

// Room is the connected room the session listens to and speaks into.
type Room interface {
	Name() string
	// Frames delivers inbound audio from remote participants. It is closed
	// when the room disconnects.
	Frames() <-chan Frame
	Play(ctx context.Context, audio Audio) error
	PublishTranscript(ctx context.Context, t Transcript) error
	Done() <-chan struct{}
	// Err is the reason the room ended, nil for a clean disconnect.
	Err() error
}
