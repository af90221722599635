// Package chime plays short cues when a picture appears or a generation fails.
package chime

import (
	"math"
	"sync/atomic"
)

const sampleRate = 44100

const (
	// Shown: two rising notes, a fifth apart.
	shownLow    = 660
	shownHigh   = 990
	shownVolume = 0.25
	shownDecay  = 12

	// Failed: low double-beep
	failedFreq   = 350
	failedVolume = 0.3
	failedDecay  = 30
)

var disabled atomic.Bool

// Disable silences every cue. Safe to call before or after Init.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// tone renders a mono sine with an exponential decay envelope.
func tone(freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / sampleRate
		env := math.Exp(-t * decay)
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * env)
	}
	return out
}

func silence(duration float64) []int16 {
	return make([]int16, int(float64(sampleRate)*duration))
}

func concat(parts ...[]int16) []int16 {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]int16, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func shownCue() []int16 {
	return concat(
		tone(shownLow, 0.12, shownVolume, shownDecay),
		tone(shownHigh, 0.35, shownVolume, shownDecay),
		silence(0.2), // tail so the server buffer drains the last note
	)
}

func failedCue() []int16 {
	beep := tone(failedFreq, 0.08, failedVolume, failedDecay)
	return concat(beep, silence(0.05), beep, silence(0.2))
}

// stereo duplicates mono samples into interleaved L/R.
func stereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

func Shown() {
	if disabled.Load() {
		return
	}
	play(cues().shown)
}

func Failed() {
	if disabled.Load() {
		return
	}
	play(cues().failed)
}
