package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/roomagent/voice"
)

// frame10ms returns 10 ms of constant-amplitude 16 kHz audio.
func frame10ms(amplitude int16) voice.Frame {
	s := make([]int16, 160)
	for i := range s {
		s[i] = amplitude
	}
	return voice.Frame{Participant: "p", Samples: s, SampleRate: 16000}
}

func TestLoadRejectsBadOptions(t *testing.T) {
	_, err := Load(Options{Threshold: 0, MinSilence: time.Second})
	assert.Error(t, err)
	_, err = Load(Options{Threshold: 0.5, MinSilence: 0})
	assert.Error(t, err)

	e, err := Load(DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, e.NewStream())
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.InDelta(t, 1.0, RMS([]int16{32767, -32767}), 1e-6)
	assert.InDelta(t, 0.5, RMS([]int16{16384, -16384}), 1e-3)
}

func TestSpeechBoundaries(t *testing.T) {
	e, err := Load(Options{Threshold: 0.1, MinSpeech: 30 * time.Millisecond, MinSilence: 50 * time.Millisecond})
	require.NoError(t, err)
	st := e.NewStream()

	var signals []voice.VADSignal
	push := func(amp int16, n int) {
		for i := 0; i < n; i++ {
			if s := st.Push(frame10ms(amp)); s != voice.VADNone {
				signals = append(signals, s)
			}
		}
	}

	push(0, 5)
	assert.False(t, st.Speaking())

	push(10000, 2)
	assert.False(t, st.Speaking(), "needs MinSpeech before starting")
	push(10000, 1)
	assert.True(t, st.Speaking())

	push(0, 4)
	assert.True(t, st.Speaking(), "short pause keeps speech open")
	push(10000, 1)
	push(0, 5)
	assert.False(t, st.Speaking())

	assert.Equal(t, []voice.VADSignal{voice.VADSpeechStart, voice.VADSpeechEnd}, signals)
}

func TestBlipIgnored(t *testing.T) {
	e, err := Load(Options{Threshold: 0.1, MinSpeech: 30 * time.Millisecond, MinSilence: 50 * time.Millisecond})
	require.NoError(t, err)
	st := e.NewStream()

	assert.Equal(t, voice.VADNone, st.Push(frame10ms(10000)))
	assert.Equal(t, voice.VADNone, st.Push(frame10ms(0)))
	assert.Equal(t, voice.VADNone, st.Push(frame10ms(10000)))
	assert.False(t, st.Speaking())
}
