package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"illustrator/audio"
	"illustrator/gating"
	"illustrator/imagegen"
	"illustrator/pipeline"
)

func TestAskStyle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"watercolor, soft light\n", "watercolor, soft light"},
		{"\n", defaultStyle},
		{"", defaultStyle},
		{"  ink sketch  \n", "ink sketch"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := askStyle(strings.NewReader(tt.input), &out); got != tt.want {
			t.Errorf("askStyle(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), defaultStyle) {
			t.Errorf("prompt does not show the default: %q", out.String())
		}
	}
}

func TestHordeChooser(t *testing.T) {
	candidates := []string{"stable_diffusion", "Darkest Diffusion"}

	got, err := hordeChooser("Darkest Diffusion", true)(candidates)
	if err != nil || got != "Darkest Diffusion" {
		t.Errorf("preset: %q, %v", got, err)
	}
	got, err = hordeChooser("", false)(candidates)
	if err != nil || got != "stable_diffusion" {
		t.Errorf("non-interactive: %q, %v", got, err)
	}
}

func TestWantsGUI(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{nil, false},
		{[]string{"-gui"}, true},
		{[]string{"-out", "pics", "--gui"}, true},
		{[]string{"-gui=true"}, true},
		{[]string{"-gui=false"}, false},
		{[]string{"--", "-gui"}, false},
	}
	for _, tt := range tests {
		if got := wantsGUI(tt.args); got != tt.want {
			t.Errorf("wantsGUI(%q) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestDeviceLineText(t *testing.T) {
	if got := deviceLineText("AirPods Pro"); got != "mic: AirPods Pro (BT!)" {
		t.Errorf("got %q", got)
	}
	if got := deviceLineText("Built-in Microphone"); got != "mic: Built-in Microphone" {
		t.Errorf("got %q", got)
	}
}

type countingObserver struct {
	fragments, gatings, generations, displays int
}

func (c *countingObserver) OnFragment(pipeline.Utterance, int) { c.fragments++ }
func (c *countingObserver) OnGating(string, string, gating.Result, gating.Decision) {
	c.gatings++
}
func (c *countingObserver) OnGeneration(string, string, imagegen.Result) { c.generations++ }
func (c *countingObserver) OnDisplay(string, error)                      { c.displays++ }

func TestObserversFanOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	obs := observers{a, b}
	obs.OnFragment(pipeline.Utterance{Text: "hi"}, 1)
	obs.OnGating("c", "w", gating.Result{}, gating.Rejected)
	obs.OnGeneration("c", "automatic1111", imagegen.Result{})
	obs.OnDisplay("c", nil)
	for _, c := range []*countingObserver{a, b} {
		if c.fragments != 1 || c.gatings != 1 || c.generations != 1 || c.displays != 1 {
			t.Errorf("observer saw %+v", *c)
		}
	}
}

type captions []string

func (c *captions) Caption(text string) { *c = append(*c, text) }

func TestCaptionObserver(t *testing.T) {
	var got captions
	o := &captionObserver{c: &got}

	o.OnGating("c1", "w", gating.Result{Prompt: "ignored"}, gating.Rejected)
	o.OnGating("c2", "w", gating.Result{Prompt: "a red kite"}, gating.Accepted)
	o.OnGeneration("c2", "automatic1111", imagegen.Result{Outcome: imagegen.Completed})
	o.OnDisplay("c2", nil)
	o.OnGating("c3", "w", gating.Result{Prompt: "a tall ship"}, gating.Accepted)
	o.OnGeneration("c3", "stablehorde", imagegen.Result{Outcome: imagegen.TimedOut})

	want := []string{
		"Drawing: a red kite",
		"a red kite",
		"Drawing: a tall ship",
		"No picture this time (timed_out)",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("captions = %q, want %q", got, want)
	}
}

func TestChimeObserver(t *testing.T) {
	shown := make(chan struct{}, 4)
	failed := make(chan struct{}, 4)
	o := chimeObserver{
		shown:  func() { shown <- struct{}{} },
		failed: func() { failed <- struct{}{} },
	}

	o.OnGeneration("c1", "stablehorde", imagegen.Result{Outcome: imagegen.Empty})
	o.OnGeneration("c2", "stablehorde", imagegen.Result{Outcome: imagegen.Faulted})
	o.OnDisplay("c3", errors.New("disk full"))
	o.OnDisplay("c4", nil)

	wait := func(ch chan struct{}, name string) {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("%s cue not played", name)
		}
	}
	wait(failed, "failed")
	wait(shown, "shown")

	time.Sleep(50 * time.Millisecond)
	if len(failed) != 0 || len(shown) != 0 {
		t.Errorf("extra cues: failed=%d shown=%d", len(failed), len(shown))
	}
}

func TestDriveTestModeQuit(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm)/2; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i%200)))
	}
	capture, err := audio.NewFakeContextPCM(pcm, false).NewCapture(nil, audio.CaptureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	fc := capture.(*audio.FakeCapture)
	fc.SetCallback(func([]byte, uint32) {})
	if err := fc.Start(); err != nil {
		t.Fatal(err)
	}
	defer fc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	script := "WAIT_AUDIO_DONE\nSLEEP 5\nQUIT\n"
	done := make(chan struct{})
	go func() {
		driveTestMode(strings.NewReader(script), fc, cancel)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driveTestMode did not return")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Error("QUIT did not end the session")
	}
}
