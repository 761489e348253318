package server

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when an utterance exceeds MAX_BUFFER_SIZE
var ErrBufferFull = errors.New("audio buffer full")

// utteranceBuffer holds the customer's audio between end_turn signals
type utteranceBuffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	size     int
	max      int
	mimeType string
}

func newUtteranceBuffer(max int) *utteranceBuffer {
	return &utteranceBuffer{max: max}
}

// Append adds a chunk. The first chunk that names a mime type fixes it for
// the utterance.
func (b *utteranceBuffer) Append(chunk []byte, mimeType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size+len(chunk) > b.max {
		return ErrBufferFull
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	if b.mimeType == "" {
		b.mimeType = mimeType
	}
	return nil
}

// Flush returns the buffered audio in arrival order and resets the buffer
func (b *utteranceBuffer) Flush() ([]byte, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return nil, ""
	}
	audio := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		audio = append(audio, c...)
	}
	mimeType := b.mimeType
	b.reset()
	return audio, mimeType
}

// Clear drops whatever is buffered
func (b *utteranceBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *utteranceBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *utteranceBuffer) reset() {
	b.chunks = nil
	b.size = 0
	b.mimeType = ""
}
