package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"illustrator/audio"
	"illustrator/chime"
	"illustrator/config"
	"illustrator/display"
	"illustrator/doctor"
	"illustrator/encoder"
	"illustrator/gating"
	"illustrator/imagegen"
	"illustrator/listener"
	"illustrator/log"
	"illustrator/metrics"
	"illustrator/picker"
	"illustrator/pipeline"
	"illustrator/shutdown"
	"illustrator/transcriber"
	"illustrator/transcript"
)

var version = "dev"

const defaultStyle = imagegen.DefaultModifiers

// sink is set by initGUI before run starts; nil means write PNGs to -out.
var sink interface {
	pipeline.Sink
	captioner
	AudioLevel(level float64)
	Quit()
}

var (
	shutdownOnce sync.Once
	session      struct {
		buf   *transcript.Buffer
		coord *pipeline.Coordinator
	}
)

func main() {
	if wantsGUI(os.Args[1:]) {
		// fyne takes the main thread and starts run itself
		initGUI()
		return
	}
	run()
}

// wantsGUI reports whether -gui was given. It is checked before flag parsing
// because the window must be created on the main thread.
func wantsGUI(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-gui", "--gui", "-gui=true", "--gui=true":
			return true
		case "--":
			return false
		}
	}
	return false
}

func gracefulShutdown(code int) {
	shutdownOnce.Do(func() {
		if session.coord != nil {
			log.SessionEnd(session.buf.Fragments(), int(session.coord.Images()))
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		if sink != nil {
			sink.Quit()
		}
		os.Exit(code)
	})
}

func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Error(msg)
	fmt.Fprintln(os.Stderr, "Error: "+msg)
	gracefulShutdown(1)
}

func run() {
	apiKeyFlag := flag.String("api-key", "", "OpenAI API key (overrides OPENAI_API_KEY)")
	sdHostFlag := flag.String("sd-host", "", "Automatic1111 host, e.g. localhost:7860 (overrides SD_HOST)")
	useHordeFlag := flag.Bool("use-horde", false, "Render on Stable Horde instead of a local web UI")
	hordeKeyFlag := flag.String("horde-api-key", "", "Stable Horde API key (default anonymous)")
	hordeModelFlag := flag.String("horde-model", "", "Stable Horde model, skipping the picker")
	styleFlag := flag.String("style", "", "Style modifiers appended to every prompt")
	gptModelFlag := flag.String("gpt-model", "", "Chat model used to gate and write prompts")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	testFlag := flag.String("test", "", "Replay a 16kHz mono WAV file instead of the microphone")
	outFlag := flag.String("out", "", "Directory for rendered images when running without -gui")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	chimeFlag := flag.Bool("chime", false, "Play a chime when a picture appears")
	flag.Bool("gui", false, "Show images in a desktop window (needs a -tags gui build)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	logLevelFlag := flag.String("log-level", "", "Log level: debug, info, warn, error")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9090")
	envFileFlag := flag.String("env-file", "", "Load settings from this file (default .env if present)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	langFlag := flag.String("lang", "", "Language code for transcription (e.g., en, es, fr). Empty = auto-detect")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("illustrator %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(config.Overrides{
		EnvFile:     *envFileFlag,
		APIKey:      *apiKeyFlag,
		GPTModel:    *gptModelFlag,
		SDHost:      *sdHostFlag,
		UseHorde:    *useHordeFlag,
		HordeAPIKey: *hordeKeyFlag,
		HordeModel:  *hordeModelFlag,
		Style:       *styleFlag,
		OutputDir:   *outFlag,
		LogLevel:    *logLevelFlag,
		MetricsAddr: *metricsFlag,
		Language:    *langFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	useTUI := *tuiFlag && interactive && !*doctorFlag
	if !useTUI {
		log.EchoTo(os.Stderr)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	ctx, cancel := shutdown.Context(context.Background(), func(sig os.Signal) {
		log.Warnf("second %v, exiting without waiting", sig)
		gracefulShutdown(130)
	})
	defer cancel()

	actx, err := openAudio(*testFlag)
	if err != nil {
		fatalf("initializing audio: %v", err)
	}
	defer actx.Close()

	device, err := resolveDevice(actx, *deviceFlag, *setupFlag)
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v, using the default device\n", err)
	}

	gate := gating.New(gating.NewOpenAICompleter(cfg.OpenAIKey, cfg.OpenAIBaseURL), cfg.GPTModel)
	listenOpts := listener.DefaultOptions()
	listenOpts.Calibration = cfg.Calibration
	listenOpts.PhraseLimit = cfg.PhraseLimit

	if *doctorFlag {
		os.Exit(doctor.Run(ctx, os.Stdout, doctorChecks(cfg, gate, actx, device, listenOpts)))
	}

	if err := cfg.Validate(); err != nil {
		fatalf("%v", err)
	}

	tr, err := transcriber.New(cfg.GroqKey, cfg.OpenAIKey, cfg.OpenAIBaseURL)
	if err != nil {
		fatalf("%v", err)
	}
	if cfg.Language != "" {
		tr.SetLanguage(cfg.Language)
	}
	if w, ok := tr.(interface{ Warm() }); ok {
		// handshake while the style prompt and calibration run
		go w.Warm()
	}

	backend, err := newBackend(ctx, cfg, interactive)
	if err != nil {
		fatalf("image backend: %v", err)
	}

	style := cfg.Style
	if style == "" && interactive && *testFlag == "" {
		style = askStyle(os.Stdin, os.Stdout)
	}
	if style == "" {
		style = defaultStyle
	}

	var out pipeline.Sink
	if sink != nil {
		out = sink
	} else {
		dir, err := display.NewDir(cfg.OutputDir)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Fprintf(os.Stderr, "Images will be written to %s\n", dir.Path())
		out = dir
	}

	capture, err := actx.NewCapture(device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		fatalf("capture device init error: %v", err)
	}
	defer capture.Close()

	buf := transcript.New()
	recorder := metrics.New()
	recorder.Throughput = buf.Throughput
	obs := observers{recorder}
	if useTUI {
		obs = append(obs, tuiObserver{throughput: buf.Throughput})
	}
	if sink != nil {
		obs = append(obs, &captionObserver{c: sink})
	}
	if *chimeFlag && *testFlag == "" {
		chime.Init()
		obs = append(obs, chimeObserver{shown: chime.Shown, failed: chime.Failed})
	} else {
		chime.Disable()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := recorder.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	l := listener.New(capture, tr, listenOpts)
	l.OnLevel = func(level float64) {
		tuiSend(AudioLevelMsg{Level: level})
		if sink != nil {
			sink.AudioLevel(level)
		}
	}
	l.OnCalibrated = func(threshold, noise float64) {
		tuiSend(CalibratedMsg{Threshold: threshold, Noise: noise})
	}

	opts := pipeline.Options{
		Warmup:         cfg.Warmup,
		Interval:       cfg.Interval,
		Cooldown:       cfg.Cooldown,
		WindowWords:    cfg.WindowWords,
		MinChars:       cfg.MinWindowChars,
		MinProbability: cfg.MinProbability,
		Modifiers:      style,
		Observer:       obs,
		OnSinkClosed: func() {
			log.Info("display closed, exiting")
			gracefulShutdown(0)
		},
	}
	session.buf = buf
	session.coord = pipeline.New(buf, l, gate, backend, out, opts)

	log.SessionStart(tr.Name(), cfg.GPTModel, backend.Name())

	if useTUI {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram()
		tuiMu.Unlock()
		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
			}
			cancel()
		}()
		tuiSend(ModeLineMsg{Text: fmt.Sprintf("[%s | %s | %s]", tr.Name(), cfg.GPTModel, backend.Name())})
		tuiSend(DeviceLineMsg{Text: deviceLineText(capture.DeviceName())})
	} else {
		fmt.Fprintf(os.Stderr, "Listening on %s. Press Ctrl+C to stop.\n", capture.DeviceName())
	}

	if fc, ok := capture.(*audio.FakeCapture); ok {
		go driveTestMode(os.Stdin, fc, cancel)
	}

	err = session.coord.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrSinkClosed):
		gracefulShutdown(0)
	case err != nil:
		fatalf("%v", err)
	}
	gracefulShutdown(0)
}

func openAudio(testWav string) (audio.Context, error) {
	if testWav != "" {
		return audio.NewFakeContext(testWav, true)
	}
	if guiAudioCtx != nil {
		return guiAudioCtx, nil
	}
	return audio.NewContext()
}

func resolveDevice(actx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	switch {
	case name != "":
		dev, err := audio.FindDevice(actx, name)
		if err != nil {
			return nil, err
		}
		if dev == nil {
			return nil, fmt.Errorf("no device named %q", name)
		}
		return dev, nil
	case setup:
		return audio.SelectDevice(actx)
	}
	return nil, nil
}

func deviceLineText(name string) string {
	suffix := ""
	if audio.IsBluetooth(name) {
		suffix = " (BT!)"
	}
	return "mic: " + name + suffix
}

func newBackend(ctx context.Context, cfg *config.Config, interactive bool) (imagegen.Backend, error) {
	if !cfg.UseHorde {
		return imagegen.NewDirect(cfg.SDHost, cfg.SDTimeout)
	}
	return imagegen.NewQueued(ctx, imagegen.QueuedOptions{
		BaseURL: cfg.HordeURL,
		APIKey:  cfg.HordeAPIKey,
		Chooser: hordeChooser(cfg.HordeModel, interactive),
	})
}

// hordeChooser picks the configured model, asks on a terminal, or falls back
// to the most preferred candidate.
func hordeChooser(preset string, interactive bool) imagegen.ModelChooser {
	return func(candidates []string) (string, error) {
		if preset != "" {
			return preset, nil
		}
		if !interactive {
			return candidates[0], nil
		}
		i, err := picker.Select("Select Stable Horde model", candidates, nil)
		if err != nil {
			return "", err
		}
		return candidates[i], nil
	}
}

// askStyle asks once for style modifiers. An empty answer keeps the default.
func askStyle(in io.Reader, out io.Writer) string {
	fmt.Fprintf(out, "Style modifiers [%s]: ", defaultStyle)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return defaultStyle
	}
	if s := strings.TrimSpace(line); s != "" {
		return s
	}
	return defaultStyle
}

func doctorChecks(cfg *config.Config, gate *gating.Client, actx audio.Context, device *audio.DeviceInfo, opts listener.Options) []doctor.Check {
	checks := []doctor.Check{
		doctor.ConfigCheck(cfg),
		doctor.CompletionCheck(gate, cfg.MinProbability),
	}
	if cfg.UseHorde {
		checks = append(checks, doctor.QueuedCheck(imagegen.QueuedOptions{
			BaseURL: cfg.HordeURL,
			APIKey:  cfg.HordeAPIKey,
		}))
	} else if d, err := imagegen.NewDirect(cfg.SDHost, 10*time.Second); err == nil {
		checks = append(checks, doctor.DirectCheck(d))
	}
	return append(checks, doctor.MicrophoneCheck(actx, device, opts))
}
