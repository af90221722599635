package transcriber

import (
	"context"
	"fmt"
	"sync"

	"illustrator/encoder"
)

// FakeTranscriber replays scripted replies in order, one per utterance. Once
// the script runs out every call reports ErrNoSpeech.
type FakeTranscriber struct {
	mu      sync.Mutex
	replies []FakeReply
	lang    string
	calls   int
}

type FakeReply struct {
	Text string
	Err  error
}

func NewFake(replies ...FakeReply) *FakeTranscriber {
	return &FakeTranscriber{replies: replies}
}

func (f *FakeTranscriber) Name() string            { return "fake" }
func (f *FakeTranscriber) SetLanguage(lang string) { f.lang = lang }
func (f *FakeTranscriber) GetLanguage() string     { return f.lang }

func (f *FakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeTranscriber) Transcribe(_ context.Context, pcm []int16) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	res := &Result{AudioS: float64(len(pcm)) / encoder.SampleRate}
	if len(f.replies) == 0 {
		return res, ErrNoSpeech
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.Err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", r.Err)
	}
	if r.Text == "" {
		return res, ErrNoSpeech
	}
	res.Text = r.Text
	return res, nil
}
