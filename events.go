package main

import (
	"illustrator/gating"
	"illustrator/imagegen"
	"illustrator/pipeline"
)

// observers fans pipeline events out to every status surface so the
// coordinator only knows about one Observer.
type observers []pipeline.Observer

func (o observers) OnFragment(u pipeline.Utterance, words int) {
	for _, obs := range o {
		obs.OnFragment(u, words)
	}
}

func (o observers) OnGating(cycle, window string, res gating.Result, d gating.Decision) {
	for _, obs := range o {
		obs.OnGating(cycle, window, res, d)
	}
}

func (o observers) OnGeneration(cycle, backend string, res imagegen.Result) {
	for _, obs := range o {
		obs.OnGeneration(cycle, backend, res)
	}
}

func (o observers) OnDisplay(cycle string, err error) {
	for _, obs := range o {
		obs.OnDisplay(cycle, err)
	}
}

// captioner is a display that can show text under the picture.
type captioner interface {
	Caption(text string)
}

// captionObserver keeps the display caption on the prompt being drawn.
// Gating, generation and display events all come from the illustration
// lane, so prompt needs no lock.
type captionObserver struct {
	c      captioner
	prompt string
}

func (o *captionObserver) OnFragment(pipeline.Utterance, int) {}

func (o *captionObserver) OnGating(_, _ string, res gating.Result, d gating.Decision) {
	if d == gating.Accepted {
		o.prompt = res.Prompt
		o.c.Caption("Drawing: " + res.Prompt)
	}
}

func (o *captionObserver) OnGeneration(_, _ string, res imagegen.Result) {
	if res.Outcome != imagegen.Completed {
		o.c.Caption("No picture this time (" + res.Outcome.String() + ")")
	}
}

func (o *captionObserver) OnDisplay(_ string, err error) {
	if err == nil {
		o.c.Caption(o.prompt)
	}
}

// chimeObserver plays an audible cue for finished cycles. The cues block
// until played, so they run off the illustration lane.
type chimeObserver struct {
	shown, failed func()
}

func (chimeObserver) OnFragment(pipeline.Utterance, int) {}
func (chimeObserver) OnGating(_, _ string, _ gating.Result, _ gating.Decision) {}

func (o chimeObserver) OnGeneration(_, _ string, res imagegen.Result) {
	if res.Outcome != imagegen.Completed && res.Outcome != imagegen.Empty {
		go o.failed()
	}
}

func (o chimeObserver) OnDisplay(_ string, err error) {
	if err == nil {
		go o.shown()
	}
}
