// Package vad provides the voice-activity detector every agent session loads.
package vad

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/room4-2/roomagent/voice"
)

// Options tunes the detector.
type Options struct {
	// Threshold is the RMS level (0..1 of full scale) above which a frame
	// counts as voiced.
	Threshold float64
	// MinSpeech is how long voiced audio must last before speech starts.
	MinSpeech time.Duration
	// MinSilence is how long unvoiced audio must last before speech ends.
	MinSilence time.Duration
}

// DefaultOptions suit 16 kHz microphone audio.
func DefaultOptions() Options {
	return Options{
		Threshold:  0.02,
		MinSpeech:  100 * time.Millisecond,
		MinSilence: 550 * time.Millisecond,
	}
}

// Energy is an RMS energy detector.
type Energy struct {
	opts Options
}

// Load validates opts and returns a detector.
func Load(opts Options) (*Energy, error) {
	if opts.Threshold <= 0 || opts.Threshold >= 1 {
		return nil, fmt.Errorf("load vad: threshold %.3f out of range (0,1)", opts.Threshold)
	}
	if opts.MinSpeech < 0 || opts.MinSilence <= 0 {
		return nil, errors.New("load vad: durations must be positive")
	}
	return &Energy{opts: opts}, nil
}

// NewStream implements voice.VAD.
func (e *Energy) NewStream() voice.VADStream {
	return &stream{opts: e.opts}
}

type stream struct {
	opts     Options
	speaking bool
	voiced   time.Duration
	silent   time.Duration
}

func (s *stream) Speaking() bool { return s.speaking }

func (s *stream) Push(f voice.Frame) voice.VADSignal {
	d := f.Duration()
	loud := RMS(f.Samples) >= s.opts.Threshold

	if !s.speaking {
		if !loud {
			s.voiced = 0
			return voice.VADNone
		}
		s.voiced += d
		if s.voiced >= s.opts.MinSpeech {
			s.speaking = true
			s.silent = 0
			return voice.VADSpeechStart
		}
		return voice.VADNone
	}

	if loud {
		s.silent = 0
		return voice.VADNone
	}
	s.silent += d
	if s.silent >= s.opts.MinSilence {
		s.speaking = false
		s.voiced = 0
		return voice.VADSpeechEnd
	}
	return voice.VADNone
}

// RMS returns the root mean square of samples normalized to full scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		x := float64(v) / math.MaxInt16
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(samples)))
}
