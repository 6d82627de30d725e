package voice

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioBuffer(t *testing.T) {
	ab := NewAudioBuffer(12)
	assert.True(t, ab.IsEmpty())

	require.NoError(t, ab.Append([]int16{1, 2}))
	require.NoError(t, ab.Append([]int16{3, 4}))
	assert.Equal(t, 8, ab.Size())
	assert.Equal(t, 2, ab.ChunkCount())

	assert.ErrorIs(t, ab.Append([]int16{5, 6, 7}), ErrBufferFull)

	assert.Equal(t, []int16{1, 2, 3, 4}, ab.Flush())
	assert.True(t, ab.IsEmpty())
	assert.Nil(t, ab.Flush())

	require.NoError(t, ab.Append([]int16{9}))
	ab.Clear()
	assert.Zero(t, ab.Size())
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]int16, 1600), SampleRate: 16000}
	assert.Equal(t, 100*time.Millisecond, f.Duration())
	assert.Zero(t, Frame{Samples: []int16{1}}.Duration())
}

func TestQueueStreamDrainsBeforeEnd(t *testing.T) {
	q := newQueueStream()
	require.True(t, q.push(Event{Kind: EventUserStartedSpeaking}))
	require.True(t, q.push(Event{Kind: EventUserStoppedSpeaking}))
	q.close(nil)
	assert.False(t, q.push(Event{Kind: EventUserSpeechCommitted}))

	ctx := context.Background()
	ev, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventUserStartedSpeaking, ev.Kind)
	ev, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventUserStoppedSpeaking, ev.Kind)

	_, err = q.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = q.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestQueueStreamHonoursContext(t *testing.T) {
	q := newQueueStream()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
