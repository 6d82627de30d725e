// Package relay drives one agent job: it joins the room, builds the voice
// pipeline, greets the user and answers every committed utterance until the
// room goes away.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/voice"
)

const (
	// GreetingInstructions steer the reply sent right after the session starts.
	GreetingInstructions = "Greet the user warmly and offer your help."
	// ReplyPrefix is prepended to the transcribed text of every user turn.
	ReplyPrefix = "Answer the user appropriately: "
)

// State is the lifecycle position of a job.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSessionStarting
	StateSessionActive
	StateTerminatedSuccess
	StateTerminatedError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionStarting:
		return "session_starting"
	case StateSessionActive:
		return "session_active"
	case StateTerminatedSuccess:
		return "terminated_success"
	case StateTerminatedError:
		return "terminated_error"
	default:
		return "unknown"
	}
}

// Room is a connected room the relay can leave.
type Room interface {
	voice.Room
	Disconnect()
}

// Session is the conversational pipeline bound to one room.
type Session interface {
	Start(ctx context.Context, room voice.Room) error
	GenerateReply(ctx context.Context, instructions string) error
	Events() voice.EventStream
	Close() error
}

// ConnectFunc joins a room. It is not retried.
type ConnectFunc func(ctx context.Context, job Job) (Room, error)

// BuildFunc constructs the pipeline components for one job.
type BuildFunc func(ctx context.Context, cfg config.AgentConfig) (voice.Components, error)

// SessionFunc creates a session over the built components.
type SessionFunc func(comps voice.Components, opts voice.SessionOptions) Session

// Job is one room assignment.
type Job struct {
	ID   string
	Room string

	// OnState and OnEvent are optional observers. They run on the relay
	// goroutine and must not block.
	OnState func(State)
	OnEvent func(voice.Event)
}

func (j Job) setState(s State) {
	if j.OnState != nil {
		j.OnState(s)
	}
}

func (j Job) tag() string {
	if len(j.ID) > 8 {
		return j.ID[:8]
	}
	return j.ID
}

// Relay runs jobs with a fixed configuration.
type Relay struct {
	cfg        config.AgentConfig
	connect    ConnectFunc
	build      BuildFunc
	newSession SessionFunc
}

// New returns a relay. cfg is captured by value and never re-read.
func New(cfg config.AgentConfig, connect ConnectFunc, build BuildFunc, newSession SessionFunc) *Relay {
	return &Relay{cfg: cfg, connect: connect, build: build, newSession: newSession}
}

// NewAgentSession adapts voice.NewAgentSession to SessionFunc.
func NewAgentSession(comps voice.Components, opts voice.SessionOptions) Session {
	return voice.NewAgentSession(comps, opts)
}

// Run executes one job until the room's event stream ends. A clean end
// returns nil. Connection, VAD and session start failures are returned as
// is; the caller owns any retry. The greeting and per-turn replies are best
// effort: their failures are logged and the job keeps going.
func (r *Relay) Run(ctx context.Context, job Job) (err error) {
	id := job.tag()
	defer func() {
		if err != nil {
			job.setState(StateTerminatedError)
		} else {
			job.setState(StateTerminatedSuccess)
		}
	}()

	job.setState(StateConnecting)
	room, err := r.connect(ctx, job)
	if err != nil {
		return fmt.Errorf("connect to room %s: %w", job.Room, err)
	}
	defer room.Disconnect()
	job.setState(StateConnected)
	log.Printf("🔗 [%s] Connected to room %s", id, room.Name())

	comps, err := r.build(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	job.setState(StateSessionStarting)
	sess := r.newSession(comps, voice.SessionOptions{
		Instructions:      r.cfg.Instructions,
		MaxUtteranceBytes: r.cfg.MaxUtteranceSize,
	})
	if err := sess.Start(ctx, room); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.Close()
	job.setState(StateSessionActive)
	log.Printf("🎙️ [%s] Session started (%s)", id, comps.Capabilities())

	if err := sess.GenerateReply(ctx, GreetingInstructions); err != nil {
		log.Printf("⚠️ [%s] Greeting failed: %v", id, err)
	}

	events := sess.Events()
	for {
		ev, err := events.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Printf("✅ [%s] Event stream ended", id)
			return nil
		}
		if err != nil {
			log.Printf("❌ [%s] Event stream aborted: %v", id, err)
			return fmt.Errorf("event stream: %w", err)
		}

		if job.OnEvent != nil {
			job.OnEvent(ev)
		}

		text, ok := committedText(ev)
		if !ok {
			continue
		}
		log.Printf("🗣️ [%s] %s: %s", id, ev.Participant, text)
		if err := sess.GenerateReply(ctx, ReplyPrefix+text); err != nil {
			log.Printf("⚠️ [%s] Reply failed: %v", id, err)
		}
	}
}

// committedText returns the best transcription of a committed utterance.
func committedText(ev voice.Event) (string, bool) {
	if ev.Kind != voice.EventUserSpeechCommitted || len(ev.Alternatives) == 0 {
		return "", false
	}
	return ev.Alternatives[0].Text, true
}
