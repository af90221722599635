// Package listener turns a capture device into a stream of transcribed
// utterances: it calibrates to the room, cuts phrases on pauses, and hands
// each phrase to a Transcriber in order.
package listener

import (
	"context"
	"sync"
	"time"

	"illustrator/audio"
	"illustrator/encoder"
	"illustrator/log"
	"illustrator/pipeline"
	"illustrator/transcriber"
)

// flushTimeout bounds the transcription of a phrase cut off by shutdown.
const flushTimeout = 5 * time.Second

type Listener struct {
	capture audio.CaptureDevice
	tr      transcriber.Transcriber
	opts    Options

	// OnLevel receives the RMS of every analysed frame. Called from the
	// capture goroutine; keep it cheap.
	OnLevel func(rms float64)
	// OnCalibrated fires once ambient calibration completes.
	OnCalibrated func(threshold, noise float64)
	// OnResult receives every transcription result, including failures.
	OnResult func(res *transcriber.Result, err error)
}

func New(capture audio.CaptureDevice, tr transcriber.Transcriber, opts Options) *Listener {
	return &Listener{capture: capture, tr: tr, opts: opts.withDefaults()}
}

// phraseQueue is unbounded so the capture callback never blocks on a slow
// transcription request.
type phraseQueue struct {
	mu     sync.Mutex
	items  [][]int16
	signal chan struct{}
}

func newPhraseQueue() *phraseQueue {
	return &phraseQueue{signal: make(chan struct{}, 1)}
}

func (q *phraseQueue) push(p []int16) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *phraseQueue) pop() ([]int16, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Listen captures until ctx is cancelled, calling handle once per phrase in
// the order phrases were spoken. It returns ctx.Err() or a capture error.
func (l *Listener) Listen(ctx context.Context, handle func(pipeline.Utterance)) error {
	seg := NewSegmenter(l.opts)
	queue := newPhraseQueue()
	calibStart := time.Now()

	var segMu sync.Mutex
	reported := false
	l.capture.SetCallback(func(data []byte, _ uint32) {
		samples := audio.Samples(data)
		segMu.Lock()
		phrases := seg.Feed(samples)
		level := seg.Level()
		calibrated := seg.Calibrated() && !reported
		if calibrated {
			reported = true
		}
		threshold, noise := seg.Threshold(), seg.NoiseFloor()
		segMu.Unlock()

		if l.OnLevel != nil {
			l.OnLevel(level)
		}
		if calibrated {
			log.Calibration(threshold, noise, time.Since(calibStart))
			if l.OnCalibrated != nil {
				l.OnCalibrated(threshold, noise)
			}
		}
		for _, p := range phrases {
			queue.push(p)
		}
	})

	if err := l.capture.Start(); err != nil {
		l.capture.ClearCallback()
		return err
	}
	log.Info("listening on " + l.capture.DeviceName())

	for {
		if ctx.Err() != nil {
			break
		}
		if p, ok := queue.pop(); ok {
			l.transcribe(ctx, p, handle)
			continue
		}
		select {
		case <-ctx.Done():
		case <-queue.signal:
		}
	}
	l.capture.Stop()
	l.capture.ClearCallback()

	segMu.Lock()
	tail := seg.Flush()
	segMu.Unlock()
	if tail != nil {
		// still speaking at shutdown: finish the phrase for the transcript log
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		l.transcribe(fctx, tail, handle)
		cancel()
	}
	return ctx.Err()
}

func (l *Listener) transcribe(ctx context.Context, pcm []int16, handle func(pipeline.Utterance)) {
	dur := encoder.Duration(len(pcm))
	res, err := l.tr.Transcribe(ctx, pcm)
	if l.OnResult != nil {
		l.OnResult(res, err)
	}
	if err != nil {
		handle(pipeline.Utterance{Err: err, Audio: dur})
		return
	}
	handle(pipeline.Utterance{Text: res.Text, Audio: dur})
}
