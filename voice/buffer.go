package voice

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the buffer exceeds its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// AudioBuffer accumulates PCM16 chunks of one utterance until flushed
type AudioBuffer struct {
	chunks    [][]int16
	totalSize int
	maxSize   int
	mu        sync.Mutex
}

// NewAudioBuffer creates a buffer with the specified maximum size in bytes
func NewAudioBuffer(maxSize int) *AudioBuffer {
	return &AudioBuffer{
		chunks:  make([][]int16, 0),
		maxSize: maxSize,
	}
}

// MaxSize returns the maximum buffer size in bytes
func (ab *AudioBuffer) MaxSize() int {
	return ab.maxSize
}

// Append adds a chunk to the buffer.
// Returns ErrBufferFull if adding the chunk would exceed maxSize
func (ab *AudioBuffer) Append(chunk []int16) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	newSize := ab.totalSize + 2*len(chunk)
	if newSize > ab.maxSize {
		return ErrBufferFull
	}

	ab.chunks = append(ab.chunks, chunk)
	ab.totalSize = newSize
	return nil
}

// Flush concatenates all chunks in order and clears the buffer
func (ab *AudioBuffer) Flush() []int16 {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.chunks) == 0 {
		return nil
	}

	result := make([]int16, 0, ab.totalSize/2)
	for _, chunk := range ab.chunks {
		result = append(result, chunk...)
	}

	ab.chunks = make([][]int16, 0)
	ab.totalSize = 0

	return result
}

// Clear empties the buffer without returning data
func (ab *AudioBuffer) Clear() {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.chunks = make([][]int16, 0)
	ab.totalSize = 0
}

// Size returns the current total buffered bytes
func (ab *AudioBuffer) Size() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.totalSize
}

// IsEmpty returns true if no chunks are buffered
func (ab *AudioBuffer) IsEmpty() bool {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.chunks) == 0
}

// ChunkCount returns the number of buffered chunks
func (ab *AudioBuffer) ChunkCount() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.chunks)
}
