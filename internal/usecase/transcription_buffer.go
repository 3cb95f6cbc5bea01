package usecase

import (
	"strings"
	"sync"
)

// transcriptionBuffer accumulates output transcription fragments for the
// current model turn. The inbound handler is its only writer.
type transcriptionBuffer struct {
	mu   sync.Mutex
	text string
}

func newTranscriptionBuffer() *transcriptionBuffer {
	return &transcriptionBuffer{}
}

// Append adds a fragment and returns the accumulated text.
func (b *transcriptionBuffer) Append(fragment string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return b.text
	}
	if b.text == "" {
		b.text = fragment
	} else {
		b.text += " " + fragment
	}
	return b.text
}

func (b *transcriptionBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Clear empties the buffer and returns what it held.
func (b *transcriptionBuffer) Clear() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := b.text
	b.text = ""
	return text
}
