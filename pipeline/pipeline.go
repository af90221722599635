// Package pipeline runs the two lanes of the illustrator: one feeds
// recognized speech into the transcript buffer, the other periodically asks
// the gating model whether the latest words are worth an image and, if so,
// renders and displays it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"illustrator/gating"
	"illustrator/imagegen"
	"illustrator/log"
	"illustrator/transcript"
	"illustrator/transcriber"
)

// Utterance is one recognized phrase, or the reason it was not recognized.
type Utterance struct {
	Text  string
	Err   error
	Audio time.Duration
}

// Listener delivers utterances until ctx is cancelled.
type Listener interface {
	Listen(ctx context.Context, handle func(Utterance)) error
}

type Classifier interface {
	Classify(ctx context.Context, window string) gating.Result
}

// Sink displays images. Open reports whether the display surface still
// exists; it is consulted before every Show.
type Sink interface {
	Show(img image.Image) error
	Open() bool
}

// Observer is notified of lane activity. Implementations must be safe for
// concurrent use: fragment and gating events arrive from different lanes.
type Observer interface {
	OnFragment(u Utterance, words int)
	OnGating(cycle, window string, res gating.Result, d gating.Decision)
	OnGeneration(cycle, backend string, res imagegen.Result)
	OnDisplay(cycle string, err error)
}

var ErrSinkClosed = errors.New("display closed")

type Options struct {
	Warmup         time.Duration
	Interval       time.Duration
	Cooldown       time.Duration
	WindowWords    int
	MinChars       int
	MinProbability int
	Modifiers      string
	// OnSinkClosed runs once when the display is found closed. The default
	// logs and exits the process.
	OnSinkClosed func()
	Observer     Observer
}

func DefaultOptions() Options {
	return Options{
		Warmup:         20 * time.Second,
		Interval:       5 * time.Second,
		Cooldown:       15 * time.Second,
		WindowWords:    100,
		MinChars:       20,
		MinProbability: gating.DefaultMinProbability,
		Modifiers:      imagegen.DefaultModifiers,
	}
}

type Coordinator struct {
	buf      *transcript.Buffer
	listener Listener
	gate     Classifier
	backend  imagegen.Backend
	sink     Sink
	opts     Options

	cycles atomic.Int64
	images atomic.Int64
}

func New(buf *transcript.Buffer, listener Listener, gate Classifier, backend imagegen.Backend, sink Sink, opts Options) *Coordinator {
	d := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = d.Interval
	}
	if opts.WindowWords <= 0 {
		opts.WindowWords = d.WindowWords
	}
	if opts.OnSinkClosed == nil {
		opts.OnSinkClosed = func() {
			log.Info("display closed, exiting")
			log.Close()
			os.Exit(0)
		}
	}
	return &Coordinator{
		buf:      buf,
		listener: listener,
		gate:     gate,
		backend:  backend,
		sink:     sink,
		opts:     opts,
	}
}

// Cycles is the number of gating ticks that sampled the buffer.
func (c *Coordinator) Cycles() int64 { return c.cycles.Load() }

// Images is the number of images handed to the sink.
func (c *Coordinator) Images() int64 { return c.images.Load() }

// Run starts both lanes and blocks until ctx is cancelled, the display
// closes (ErrSinkClosed), or the listener fails.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var listenErr, illustrateErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		listenErr = c.Transcribe(ctx)
		if listenErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		illustrateErr = c.Illustrate(ctx)
		cancel()
	}()
	wg.Wait()

	if errors.Is(illustrateErr, ErrSinkClosed) {
		return illustrateErr
	}
	return listenErr
}

// Transcribe runs the transcription lane. It returns nil on cancellation.
func (c *Coordinator) Transcribe(ctx context.Context) error {
	err := c.listener.Listen(ctx, c.handleUtterance)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	log.Errorf("listener stopped: %v", err)
	return fmt.Errorf("listener: %w", err)
}

func (c *Coordinator) handleUtterance(u Utterance) {
	switch {
	case u.Err == nil:
		c.buf.Append(u.Text)
		log.Fragment(u.Text)
	case errors.Is(u.Err, transcriber.ErrNoSpeech):
		c.buf.AppendNoResult()
		log.Debugf("no speech in %.1fs utterance", u.Audio.Seconds())
	default:
		log.Warnf("transcription error: %v", u.Err)
	}
	if c.opts.Observer != nil {
		c.opts.Observer.OnFragment(u, c.buf.WordCount())
	}
}

// Illustrate runs the gating/generation lane: warm up, then tick every
// Interval, adding Cooldown after any tick that did not produce a prompt.
// Only ErrSinkClosed is returned; cancellation returns nil.
func (c *Coordinator) Illustrate(ctx context.Context) error {
	if err := sleep(ctx, c.opts.Warmup); err != nil {
		return nil
	}
	for {
		if err := sleep(ctx, c.opts.Interval); err != nil {
			return nil
		}
		cooldown, err := c.tick(ctx)
		if err != nil {
			return err
		}
		if cooldown {
			if err := sleep(ctx, c.opts.Cooldown); err != nil {
				return nil
			}
		}
	}
}

// tick runs one gating cycle. It reports whether the lane should cool down.
func (c *Coordinator) tick(ctx context.Context) (bool, error) {
	window := c.buf.SnapshotLastWords(c.opts.WindowWords)
	if n := utf8.RuneCountInString(window); n <= c.opts.MinChars {
		log.Debugf("window too short (%d chars)", n)
		return false, nil
	}

	c.cycles.Add(1)
	cycle := uuid.NewString()[:8]

	res := c.classify(ctx, window)
	decision := res.Decide(c.opts.MinProbability)
	log.Gating(log.GatingEvent{
		Cycle:       cycle,
		Decision:    decision.String(),
		Probability: res.Probability,
		Prompt:      res.Prompt,
		WindowChars: len(window),
		Elapsed:     res.Elapsed,
		Err:         res.Err,
	})
	if c.opts.Observer != nil {
		c.opts.Observer.OnGating(cycle, window, res, decision)
	}
	if decision != gating.Accepted {
		return true, nil
	}

	req := imagegen.Request{Prompt: res.Prompt, Modifiers: c.opts.Modifiers}
	gen := c.generate(ctx, req.String())
	log.Generation(log.GenerationEvent{
		Cycle:   cycle,
		Backend: c.backend.Name(),
		JobID:   gen.JobID,
		Outcome: gen.Outcome.String(),
		Images:  len(gen.Images),
		Polls:   gen.Polls,
		Elapsed: gen.Elapsed,
		Err:     gen.Err,
	})
	if c.opts.Observer != nil {
		c.opts.Observer.OnGeneration(cycle, c.backend.Name(), gen)
	}

	for _, img := range gen.Images {
		if !c.sink.Open() {
			c.opts.OnSinkClosed()
			return false, ErrSinkClosed
		}
		err := c.sink.Show(img)
		if err != nil {
			log.Errorf("display: %v", err)
		} else {
			c.images.Add(1)
		}
		if c.opts.Observer != nil {
			c.opts.Observer.OnDisplay(cycle, err)
		}
	}
	return false, nil
}

func (c *Coordinator) classify(ctx context.Context, window string) (res gating.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("gating panic: %v", r)
			res = gating.Result{Outcome: gating.OutcomeRequestFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.gate.Classify(ctx, window)
}

func (c *Coordinator) generate(ctx context.Context, prompt string) (res imagegen.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("generation panic: %v", r)
			res = imagegen.Result{Outcome: imagegen.TransportFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.backend.Generate(ctx, prompt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
