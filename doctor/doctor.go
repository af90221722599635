package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"illustrator/audio"
	"illustrator/config"
	"illustrator/encoder"
	"illustrator/gating"
	"illustrator/imagegen"
	"illustrator/listener"
	"illustrator/pipeline"
)

// sampleSentence is scored by the completion check. It is vivid enough that
// a working gating model usually proposes a prompt.
const sampleSentence = "The old lighthouse keeper climbed the spiral stairs as the storm " +
	"threw green waves against the rocks below."

type Check struct {
	Name string
	Run  func(ctx context.Context, w io.Writer) error
}

// Run executes checks in order and returns an exit code (0=all pass, 1=any fail).
// Checks after the first failure are skipped.
func Run(ctx context.Context, w io.Writer, checks []Check) int {
	restoreTerminal()

	fmt.Fprintln(w, "illustrator doctor - system diagnostics")
	fmt.Fprintln(w, "=======================================")

	if !run(ctx, w, checks) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Some checks failed. See details above.")
		return 1
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "All checks passed!")
	return 0
}

func run(ctx context.Context, w io.Writer, checks []Check) bool {
	allPass := true
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.Name)
		if !allPass {
			fmt.Fprintln(w, "  SKIP")
			continue
		}
		if ctx.Err() != nil {
			fmt.Fprintln(w, "  SKIP (interrupted)")
			allPass = false
			continue
		}
		if err := c.Run(ctx, w); err != nil {
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			allPass = false
			continue
		}
		fmt.Fprintln(w, "  PASS")
	}
	return allPass
}

func ConfigCheck(cfg *config.Config) Check {
	return Check{Name: "Configuration", Run: func(_ context.Context, w io.Writer) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(w, "  OpenAI key: %s\n", mask(cfg.OpenAIKey))
		fmt.Fprintf(w, "  Gating model: %s\n", cfg.GPTModel)
		if cfg.GroqKey != "" {
			fmt.Fprintf(w, "  Transcription: groq (%s)\n", mask(cfg.GroqKey))
		} else {
			fmt.Fprintln(w, "  Transcription: openai whisper")
		}
		fmt.Fprintf(w, "  Image backend: %s\n", cfg.Backend())
		return nil
	}}
}

func mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func CompletionCheck(gate pipeline.Classifier, minProbability int) Check {
	return Check{Name: "Completion endpoint", Run: func(ctx context.Context, w io.Writer) error {
		res := gate.Classify(ctx, sampleSentence)
		switch res.Outcome {
		case gating.OutcomeRequestFailed:
			return res.Err
		case gating.OutcomeParseFailed:
			return fmt.Errorf("reachable, but the reply did not parse: %q", res.Raw)
		}
		fmt.Fprintf(w, "  Probability %d/10 in %s\n", res.Probability, res.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(w, "  Decision: %s\n", res.Decide(minProbability))
		if res.Prompt != "" {
			fmt.Fprintf(w, "  Prompt: %s\n", res.Prompt)
		}
		return nil
	}}
}

type modelLister interface {
	Models(ctx context.Context) ([]string, error)
}

func DirectCheck(d *imagegen.Direct) Check {
	return directCheck(d, d.URL())
}

func directCheck(d modelLister, url string) Check {
	return Check{Name: "Automatic1111 web UI", Run: func(ctx context.Context, w io.Writer) error {
		models, err := d.Models(ctx)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return errors.New("web UI reachable but no checkpoints loaded")
		}
		fmt.Fprintf(w, "  %s\n", url)
		fmt.Fprintf(w, "  %d checkpoint(s): %s\n", len(models), strings.Join(models, ", "))
		return nil
	}}
}

// QueuedCheck fetches the Horde model catalog and intersects it with the
// preferred models, without prompting for a choice.
func QueuedCheck(opts imagegen.QueuedOptions) Check {
	return Check{Name: "Stable Horde", Run: func(ctx context.Context, w io.Writer) error {
		opts.Chooser = nil
		q, err := imagegen.NewQueued(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  Preferred models available: %s\n", strings.Join(q.Candidates(), ", "))
		return nil
	}}
}

// MicrophoneCheck captures until the segmenter has calibrated to the room.
func MicrophoneCheck(actx audio.Context, device *audio.DeviceInfo, opts listener.Options) Check {
	return Check{Name: "Microphone", Run: func(ctx context.Context, w io.Writer) error {
		return checkMicrophone(ctx, w, actx, device, opts)
	}}
}

func checkMicrophone(ctx context.Context, w io.Writer, actx audio.Context, device *audio.DeviceInfo, opts listener.Options) error {
	capture, err := actx.NewCapture(device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer capture.Close()

	seg := listener.NewSegmenter(opts)
	var (
		mu      sync.Mutex
		samples int
		peak    float64
		once    sync.Once
	)
	calibrated := make(chan struct{})
	capture.SetCallback(func(data []byte, _ uint32) {
		pcm := audio.Samples(data)
		mu.Lock()
		defer mu.Unlock()
		seg.Feed(pcm)
		samples += len(pcm)
		peak = max(peak, seg.Level())
		if seg.Calibrated() {
			once.Do(func() { close(calibrated) })
		}
	})
	defer capture.ClearCallback()

	fmt.Fprintf(w, "  Device: %s\n", capture.DeviceName())
	fmt.Fprintln(w, "  Stay quiet while the room is measured...")
	if err := capture.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	defer capture.Stop()

	timeout := opts.Calibration + 3*time.Second
	if opts.Calibration <= 0 {
		timeout = listener.DefaultOptions().Calibration + 3*time.Second
	}
	select {
	case <-calibrated:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		mu.Lock()
		n := samples
		mu.Unlock()
		if n == 0 {
			return errors.New("no audio captured")
		}
		return fmt.Errorf("only %.1fs of audio in %s", float64(n)/encoder.SampleRate, timeout)
	}

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(w, "  Noise floor %.4f, speech threshold %.4f, peak %.4f\n", seg.NoiseFloor(), seg.Threshold(), peak)
	return nil
}
