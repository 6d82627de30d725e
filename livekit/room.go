// Package livekit joins LiveKit rooms as an agent participant and exposes
// them to the voice session: inbound audio as frames, outbound audio on a
// published microphone track and transcripts on the data channel.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	media "github.com/livekit/media-sdk"
	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/messages"
	"github.com/room4-2/roomagent/voice"
)

const (
	// InputSampleRate is the rate inbound audio is decoded to.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of the published agent track.
	OutputSampleRate = 24000

	frameBuffer      = 128
	transcriptTopic  = "transcription"
	outputChunkMilli = 20
)

var ErrMissingCredentials = errors.New("livekit api key and secret are required")

// Connector joins rooms on one LiveKit server.
type Connector struct {
	URL       string
	APIKey    string
	APISecret string
	AgentName string
}

// NewConnector builds a connector from the agent settings.
func NewConnector(cfg config.AgentConfig, agentName string) *Connector {
	return &Connector{
		URL:       cfg.LiveKitURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		AgentName: agentName,
	}
}

// Connect joins roomName as an agent participant, subscribes to every audio
// track and publishes the agent's own audio track.
func (c *Connector) Connect(ctx context.Context, roomName string) (*Room, error) {
	if c.APIKey == "" || c.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := newRoom(roomName)
	identity := fmt.Sprintf("%s-%s", c.AgentName, roomName)

	lkRoom, err := lksdk.ConnectToRoom(
		c.URL,
		lksdk.ConnectInfo{
			APIKey:              c.APIKey,
			APISecret:           c.APISecret,
			RoomName:            roomName,
			ParticipantIdentity: identity,
			ParticipantName:     c.AgentName,
			ParticipantKind:     lksdk.ParticipantAgent,
		},
		r.callback(),
		lksdk.WithAutoSubscribe(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room %s: %w", roomName, err)
	}
	r.lk = lkRoom

	track, err := lkmedia.NewPCMLocalTrack(OutputSampleRate, 1, nil)
	if err != nil {
		lkRoom.Disconnect()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	if _, err := lkRoom.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: lkproto.TrackSource_MICROPHONE,
	}); err != nil {
		track.Close()
		lkRoom.Disconnect()
		return nil, fmt.Errorf("failed to publish audio track: %w", err)
	}
	r.out = track
	r.clearOut = func() { track.ClearQueue() }
	r.closeOut = func() { track.Close() }
	r.publish = func(data []byte) error {
		return lkRoom.LocalParticipant.PublishDataPacket(
			lksdk.UserData(data),
			lksdk.WithDataPublishReliable(true),
			lksdk.WithDataPublishTopic(transcriptTopic),
		)
	}

	log.Printf("✅ Joined room %s as %s", roomName, identity)
	return r, nil
}

// sampleWriter is the outbound side of a PCM local track.
type sampleWriter interface {
	WriteSample(sample media.PCM16Sample) error
}

// Room is a joined LiveKit room. It implements voice.Room.
type Room struct {
	name    string
	lk      *lksdk.Room
	out     sampleWriter
	publish func(data []byte) error

	clearOut func()
	closeOut func()

	// JobID is stamped on transcripts published to the data channel.
	JobID string

	frames chan voice.Frame

	mu      sync.Mutex
	remotes map[string]*lkmedia.PCMRemoteTrack
	dropped int
	closed  bool
	err     error
	done    chan struct{}
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		frames:  make(chan voice.Frame, frameBuffer),
		remotes: make(map[string]*lkmedia.PCMRemoteTrack),
		done:    make(chan struct{}),
	}
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   r.onTrackSubscribed,
			OnTrackUnsubscribed: r.onTrackUnsubscribed,
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			log.Printf("👤 [%s] Participant joined: %s", r.name, rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			log.Printf("👋 [%s] Participant left: %s", r.name, rp.Identity())
		},
		OnDisconnectedWithReason: r.onDisconnected,
	}
}

// onDisconnected ends the frame stream. Leaving on our own and the room
// being closed are normal ends; any other reason is a failure the session
// must see.
func (r *Room) onDisconnected(reason lksdk.DisconnectionReason) {
	switch reason {
	case lksdk.LeaveRequested, lksdk.RoomClosed:
		log.Printf("🔌 [%s] Disconnected from room (%s)", r.name, reason)
		r.finish(nil)
	default:
		log.Printf("❌ [%s] Lost connection to room: %s", r.name, reason)
		r.finish(fmt.Errorf("livekit disconnected: %v", reason))
	}
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	w := &frameWriter{room: r, participant: rp.Identity()}
	pcm, err := lkmedia.NewPCMRemoteTrack(track, w,
		lkmedia.WithTargetSampleRate(InputSampleRate),
		lkmedia.WithTargetChannels(1),
	)
	if err != nil {
		log.Printf("❌ [%s] Cannot decode track %s from %s: %v", r.name, track.ID(), rp.Identity(), err)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		pcm.Close()
		return
	}
	r.remotes[track.ID()] = pcm
	r.mu.Unlock()

	log.Printf("🎧 [%s] Listening to %s (%s)", r.name, rp.Identity(), track.Codec().MimeType)
}

func (r *Room) onTrackUnsubscribed(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
	r.mu.Lock()
	pcm, ok := r.remotes[track.ID()]
	delete(r.remotes, track.ID())
	r.mu.Unlock()

	if ok {
		pcm.Close()
	}
}

// deliver hands a decoded frame to the session without blocking the media
// goroutine. Frames are dropped when the session falls behind.
func (r *Room) deliver(f voice.Frame) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.frames <- f:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		if n == 1 || n%500 == 0 {
			log.Printf("⚠️ [%s] Dropped %d inbound audio frames", r.name, n)
		}
	}
}

// Name implements voice.Room.
func (r *Room) Name() string { return r.name }

// Frames implements voice.Room.
func (r *Room) Frames() <-chan voice.Frame { return r.frames }

// Done implements voice.Room.
func (r *Room) Done() <-chan struct{} { return r.done }

// Err implements voice.Room.
func (r *Room) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Play queues audio on the agent track in 20 ms chunks. Cancelling ctx
// drops whatever has not been sent yet.
func (r *Room) Play(ctx context.Context, audio voice.Audio) error {
	if r.out == nil {
		return errors.New("no audio track published")
	}
	if audio.SampleRate != OutputSampleRate {
		return fmt.Errorf("unsupported sample rate %d, track expects %d", audio.SampleRate, OutputSampleRate)
	}

	chunk := OutputSampleRate * outputChunkMilli / 1000
	for start := 0; start < len(audio.Samples); start += chunk {
		select {
		case <-ctx.Done():
			if r.clearOut != nil {
				r.clearOut()
			}
			return ctx.Err()
		case <-r.done:
			return errors.New("room closed")
		default:
		}

		end := start + chunk
		if end > len(audio.Samples) {
			end = len(audio.Samples)
		}
		if err := r.out.WriteSample(media.PCM16Sample(audio.Samples[start:end])); err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
	}
	return nil
}

// PublishTranscript sends a transcript line on the "transcription" data topic.
func (r *Room) PublishTranscript(_ context.Context, t voice.Transcript) error {
	if r.publish == nil {
		return errors.New("room not connected")
	}
	data, err := messages.Encode(messages.NewTranscriptMessage(r.JobID, r.name, t.Participant, string(t.Role), t.Text))
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	return r.publish(data)
}

// Disconnect leaves the room. The frame stream ends normally.
func (r *Room) Disconnect() {
	r.finish(nil)
	if r.lk != nil {
		r.lk.Disconnect()
	}
}

func (r *Room) finish(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.err = err
	remotes := r.remotes
	r.remotes = map[string]*lkmedia.PCMRemoteTrack{}
	r.mu.Unlock()

	for _, pcm := range remotes {
		pcm.Close()
	}
	if r.closeOut != nil {
		r.closeOut()
	}
	close(r.done)
}

// frameWriter receives decoded PCM for one remote track.
type frameWriter struct {
	room        *Room
	participant string
}

func (w *frameWriter) String() string  { return "roomagent-frames(" + w.participant + ")" }
func (w *frameWriter) SampleRate() int { return InputSampleRate }

func (w *frameWriter) WriteSample(sample media.PCM16Sample) error {
	samples := make([]int16, len(sample))
	copy(samples, sample)
	w.room.deliver(voice.Frame{
		Participant: w.participant,
		Samples:     samples,
		SampleRate:  InputSampleRate,
	})
	return nil
}

func (w *frameWriter) Close() error { return nil }
