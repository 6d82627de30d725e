package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxUtterance = 5 * 1024 * 1024
	defaultMaxHistory   = 20
	defaultPreRoll      = 300 * time.Millisecond
)

// SessionOptions configures an AgentSession.
type SessionOptions struct {
	// Instructions is the agent persona sent with every LLM request.
	Instructions string
	// MaxUtteranceBytes bounds the audio kept for one user utterance.
	MaxUtteranceBytes int
	// MaxHistory bounds the chat history kept for the LLM.
	MaxHistory int
	// PreRoll is how much audio before the VAD fires is kept and prepended
	// to the utterance.
	PreRoll time.Duration
}

// participantState tracks one speaker's VAD and pending utterance.
type participantState struct {
	vad        VADStream
	buffer     *AudioBuffer
	sampleRate int
	overflow   bool

	preroll    []Frame
	prerollDur time.Duration
}

// remember keeps f in the pre-roll window, dropping the oldest frames once
// the window is longer than limit.
func (p *participantState) remember(f Frame, limit time.Duration) {
	p.preroll = append(p.preroll, f)
	p.prerollDur += f.Duration()
	for len(p.preroll) > 0 && p.prerollDur > limit {
		p.prerollDur -= p.preroll[0].Duration()
		p.preroll = p.preroll[1:]
	}
}

// seed starts a new utterance with the pre-roll audio.
func (p *participantState) seed() {
	p.buffer.Clear()
	p.overflow = false
	for _, f := range p.preroll {
		if err := p.buffer.Append(f.Samples); err != nil {
			break
		}
	}
	p.preroll = nil
	p.prerollDur = 0
}

// AgentSession coordinates VAD, STT, LLM and TTS for one connected room.
type AgentSession struct {
	comps Components
	opts  SessionOptions

	stream *queueStream

	mu           sync.Mutex
	room         Room
	started      bool
	closing      bool
	history      []Message
	participants map[string]*participantState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAgentSession builds a session from a component set. The session does
// nothing until Start binds it to a room.
func NewAgentSession(comps Components, opts SessionOptions) *AgentSession {
	if opts.MaxUtteranceBytes <= 0 {
		opts.MaxUtteranceBytes = defaultMaxUtterance
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = defaultMaxHistory
	}
	if opts.PreRoll < 0 {
		opts.PreRoll = 0
	} else if opts.PreRoll == 0 {
		opts.PreRoll = defaultPreRoll
	}
	return &AgentSession{
		comps:        comps,
		opts:         opts,
		stream:       newQueueStream(),
		participants: make(map[string]*participantState),
		done:         make(chan struct{}),
	}
}

// Capabilities returns the stages this session can run.
func (s *AgentSession) Capabilities() Capabilities {
	return s.comps.Capabilities()
}

// Start binds the session to room and begins listening.
func (s *AgentSession) Start(ctx context.Context, room Room) error {
	if s.comps.VAD == nil {
		return fmt.Errorf("start session: vad: %w", ErrCapabilityMissing)
	}
	if room == nil {
		return errors.New("start session: nil room")
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.room = room
	listenCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	log.Printf("🎧 [%s] Agent session listening (%s)", room.Name(), s.Capabilities())
	go s.listen(listenCtx, room)
	return nil
}

// Events returns the session's event stream.
func (s *AgentSession) Events() EventStream {
	return s.stream
}

// Close stops listening, ends the event stream normally and releases any
// plugin that holds resources.
func (s *AgentSession) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if started {
		cancel()
		<-s.done
	} else {
		s.stream.close(nil)
	}
	return s.closePlugins()
}

func (s *AgentSession) closePlugins() error {
	var errs []error
	for _, p := range []interface{}{s.comps.VAD, s.comps.STT, s.comps.LLM, s.comps.TTS} {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *AgentSession) listen(ctx context.Context, room Room) {
	defer close(s.done)

	frames := room.Frames()
	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		case <-room.Done():
			s.finish(room.Err())
			return
		case f, ok := <-frames:
			if !ok {
				s.finish(room.Err())
				return
			}
			s.handleFrame(ctx, room, f)
		}
	}
}

func (s *AgentSession) finish(err error) {
	s.mu.Lock()
	if s.closing {
		err = nil
	}
	s.mu.Unlock()
	s.stream.close(err)
}

func (s *AgentSession) state(f Frame) *participantState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.participants[f.Participant]
	if !ok {
		st = &participantState{
			vad:    s.comps.VAD.NewStream(),
			buffer: NewAudioBuffer(s.opts.MaxUtteranceBytes),
		}
		s.participants[f.Participant] = st
	}
	return st
}

func (s *AgentSession) handleFrame(ctx context.Context, room Room, f Frame) {
	st := s.state(f)
	st.sampleRate = f.SampleRate

	signal := st.vad.Push(f)
	switch {
	case signal == VADSpeechStart:
		st.seed()
		s.emit(Event{Kind: EventUserStartedSpeaking, Participant: f.Participant})
	case signal == VADNone && !st.vad.Speaking():
		st.remember(f, s.opts.PreRoll)
		return
	}

	if err := st.buffer.Append(f.Samples); err != nil && !st.overflow {
		st.overflow = true
		log.Printf("⚠️ [%s] Utterance from %s exceeds %d bytes, dropping it", room.Name(), f.Participant, st.buffer.MaxSize())
	}

	if signal != VADSpeechEnd {
		return
	}

	s.emit(Event{Kind: EventUserStoppedSpeaking, Participant: f.Participant})
	if st.overflow || st.buffer.IsEmpty() || s.comps.STT == nil {
		st.buffer.Clear()
		st.overflow = false
		return
	}
	log.Printf("🗣️ [%s] Utterance from %s: %d chunks, %d bytes", room.Name(), f.Participant, st.buffer.ChunkCount(), st.buffer.Size())
	samples := st.buffer.Flush()

	alts, err := s.comps.STT.Recognize(ctx, samples, st.sampleRate)
	if err != nil {
		log.Printf("❌ [%s] Transcription failed for %s: %v", room.Name(), f.Participant, err)
		return
	}
	alts = nonEmpty(alts)
	if len(alts) == 0 {
		return
	}

	s.appendHistory(Message{Role: RoleUser, Text: alts[0].Text})
	if err := room.PublishTranscript(ctx, Transcript{
		Participant: f.Participant,
		Role:        RoleUser,
		Text:        alts[0].Text,
		Final:       true,
	}); err != nil {
		log.Printf("⚠️ [%s] Failed to publish user transcript: %v", room.Name(), err)
	}
	s.emit(Event{Kind: EventUserSpeechCommitted, Participant: f.Participant, Alternatives: alts})
}

func nonEmpty(alts []Alternative) []Alternative {
	out := alts[:0:0]
	for _, a := range alts {
		a.Text = strings.TrimSpace(a.Text)
		if a.Text != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *AgentSession) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.stream.push(ev)
}

func (s *AgentSession) appendHistory(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, m)
	if over := len(s.history) - s.opts.MaxHistory; over > 0 {
		s.history = append([]Message(nil), s.history[over:]...)
	}
}

// History returns a copy of the chat history.
func (s *AgentSession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// GenerateReply asks the LLM for a reply steered by instructions, mirrors it
// to the room as a transcript and speaks it when TTS is available.
func (s *AgentSession) GenerateReply(ctx context.Context, instructions string) error {
	s.mu.Lock()
	room := s.room
	started := s.started
	s.mu.Unlock()

	if !started {
		return ErrNotStarted
	}
	if s.comps.LLM == nil {
		return fmt.Errorf("generate reply: llm: %w", ErrCapabilityMissing)
	}

	text, err := s.comps.LLM.Chat(ctx, ChatRequest{
		Persona:      s.opts.Instructions,
		Instructions: instructions,
		History:      s.History(),
	})
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.appendHistory(Message{Role: RoleAssistant, Text: text})

	if err := room.PublishTranscript(ctx, Transcript{Role: RoleAssistant, Text: text, Final: true}); err != nil {
		log.Printf("⚠️ [%s] Failed to publish agent transcript: %v", room.Name(), err)
	}

	if s.comps.TTS != nil {
		audio, err := s.comps.TTS.Synthesize(ctx, text)
		if err != nil {
			return fmt.Errorf("synthesize reply: %w", err)
		}
		if err := room.Play(ctx, audio); err != nil {
			return fmt.Errorf("play reply: %w", err)
		}
	}

	s.emit(Event{Kind: EventAgentSpeechCommitted, Text: text})
	return nil
}
