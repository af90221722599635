// Package transcript holds the running text recognized from the microphone.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// NoResult is recorded for an utterance the recognizer could not understand.
const NoResult = "."

// Buffer is an append-only transcript. One goroutine appends while others
// take snapshots; nothing is ever removed during a run.
type Buffer struct {
	mu        sync.RWMutex
	words     []string
	fragments int
	started   time.Time
	now       func() time.Time
}

func New() *Buffer {
	return NewWithClock(time.Now)
}

// NewWithClock is New with an injectable clock for throughput tests.
func NewWithClock(now func() time.Time) *Buffer {
	return &Buffer{started: now(), now: now}
}

// Append adds a recognized fragment after a separator.
func (b *Buffer) Append(fragment string) {
	words := strings.Fields(fragment)
	if len(words) == 0 {
		return
	}
	b.mu.Lock()
	b.words = append(b.words, words...)
	b.fragments++
	b.mu.Unlock()
}

// AppendNoResult attaches the no-result marker to the previous word.
func (b *Buffer) AppendNoResult() {
	b.mu.Lock()
	if n := len(b.words); n > 0 {
		b.words[n-1] += NoResult
	} else {
		b.words = append(b.words, NoResult)
	}
	b.fragments++
	b.mu.Unlock()
}

// SnapshotLastWords returns the last n words joined by single spaces.
func (b *Buffer) SnapshotLastWords(n int) string {
	if n <= 0 {
		return ""
	}
	b.mu.RLock()
	start := max(len(b.words)-n, 0)
	tail := make([]string, len(b.words)-start)
	copy(tail, b.words[start:])
	b.mu.RUnlock()
	return strings.Join(tail, " ")
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.words, " ")
}

func (b *Buffer) WordCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.words)
}

func (b *Buffer) Fragments() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fragments
}

func (b *Buffer) Started() time.Time { return b.started }

// Throughput is words per minute since the buffer was created.
func (b *Buffer) Throughput() float64 {
	minutes := b.now().Sub(b.started).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(b.WordCount()) / minutes
}
