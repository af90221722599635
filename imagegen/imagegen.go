// Package imagegen turns a text prompt into images through one of two
// backends: a local Automatic1111-style service answering synchronously, or a
// Stable-Horde-style queue that is polled until the job finishes.
package imagegen

import (
	"context"
	"image"
	"strings"
	"time"
)

type Outcome int

const (
	Completed Outcome = iota
	Empty
	TransportFailed
	Faulted
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Empty:
		return "empty"
	case TransportFailed:
		return "transport_failed"
	case Faulted:
		return "faulted"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Result of one Generate call. Images is empty for every outcome except
// Completed; callers treat that as "no image produced", not as a failure.
type Result struct {
	Outcome Outcome
	Images  []image.Image
	JobID   string
	Polls   int
	Err     error
	Elapsed time.Duration
}

// Backend generates images for a prompt. Generate never returns an error:
// transport and decode problems surface through Result.Outcome.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) Result
}

// Request pairs the gated prompt with the style modifiers chosen at startup.
type Request struct {
	Prompt    string
	Modifiers string
}

// String is the text submitted to the backend: "<prompt>, <modifiers>".
func (r Request) String() string {
	prompt := strings.TrimSpace(r.Prompt)
	mods := strings.TrimSpace(r.Modifiers)
	if mods == "" {
		return prompt
	}
	return prompt + ", " + mods
}

// DefaultModifiers is offered when the user does not enter a style.
const DefaultModifiers = "trending on artstation, by Greg Rutkowski, award winning illustration"

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
