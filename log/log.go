package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	diag           atomic.Pointer[zerolog.Logger]
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	pid            int
	dir            string
	level          = zerolog.InfoLevel
	console        io.Writer
)

const (
	DiagnosticsFile = "diagnostics_log.txt"
	TranscriptFile  = "transcript_log.txt"
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absDir(flagPath)
	}

	// Priority 2: ILLUSTRATOR_LOG_PATH environment variable
	if envPath := os.Getenv("ILLUSTRATOR_LOG_PATH"); envPath != "" {
		return absDir(envPath)
	}

	// Priority 3: Default OS-specific location
	return defaultDir()
}

// defaultDir is ~/Library/Logs/illustrator on macOS, %LOCALAPPDATA% on
// Windows, and the XDG config directory elsewhere.
func defaultDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "illustrator"), nil
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "illustrator", "logs"), nil
		}
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "illustrator", "logs"), nil
}

func absDir(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel accepts zerolog level names ("debug", "info", "warn", ...). It must
// be called before Init.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	level = l
	return nil
}

// EchoTo mirrors diagnostics to w (typically stderr when no TUI owns the
// terminal). Pass nil to disable. Must be called before Init.
func EchoTo(w io.Writer) {
	console = w
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagFile, err = os.OpenFile(filepath.Join(dir, DiagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptFile, err = os.OpenFile(filepath.Join(dir, TranscriptFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	if console != nil {
		out = zerolog.MultiLevelWriter(out, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		})
	}
	l := zerolog.New(out).Level(level).With().Timestamp().Int("pid", pid).Logger()
	diag.Store(&l)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	diag.Store(nil)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
}

// event starts a diagnostics entry, or returns nil (on which every zerolog
// method is a no-op) before Init and after Close.
func event(lvl zerolog.Level) *zerolog.Event {
	l := diag.Load()
	if l == nil {
		return nil
	}
	return l.WithLevel(lvl)
}

func Info(msg string) { event(zerolog.InfoLevel).Msg(msg) }
func Infof(format string, args ...any) { event(zerolog.InfoLevel).Msgf(format, args...) }
func Debugf(format string, args ...any) { event(zerolog.DebugLevel).Msgf(format, args...) }
func Error(msg string) { event(zerolog.ErrorLevel).Msg(msg) }
func Errorf(format string, args ...any) { event(zerolog.ErrorLevel).Msgf(format, args...) }
func Warn(msg string) { event(zerolog.WarnLevel).Msg(msg) }
func Warnf(format string, args ...any) { event(zerolog.WarnLevel).Msgf(format, args...) }

// Fragment records one recognized utterance in the transcript log.
func Fragment(text string) {
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcriptFile.WriteString(line)
}

func Calibration(threshold float64, noiseFloor float64, d time.Duration) {
	event(zerolog.InfoLevel).
		Float64("threshold", threshold).
		Float64("noise_floor", noiseFloor).
		Dur("duration", d).
		Msg("calibration")
}

type GatingEvent struct {
	Cycle       string
	Decision    string
	Probability int
	Prompt      string
	WindowChars int
	Elapsed     time.Duration
	Err         error
}

func Gating(e GatingEvent) {
	lvl := zerolog.InfoLevel
	if e.Err != nil {
		lvl = zerolog.WarnLevel
	}
	ev := event(lvl).Err(e.Err)
	ev.Str("cycle", e.Cycle).
		Str("decision", e.Decision).
		Int("probability", e.Probability).
		Str("prompt", e.Prompt).
		Int("window_chars", e.WindowChars).
		Float64("elapsed_ms", float64(e.Elapsed.Microseconds())/1000).
		Msg("gating")
}

type GenerationEvent struct {
	Cycle   string
	Backend string
	JobID   string
	Outcome string
	Images  int
	Polls   int
	Elapsed time.Duration
	Err     error
}

func Generation(e GenerationEvent) {
	lvl := zerolog.InfoLevel
	if e.Err != nil {
		lvl = zerolog.WarnLevel
	}
	ev := event(lvl).Err(e.Err)
	ev.Str("cycle", e.Cycle).
		Str("backend", e.Backend).
		Str("job", e.JobID).
		Str("outcome", e.Outcome).
		Int("images", e.Images).
		Int("polls", e.Polls).
		Float64("elapsed_s", e.Elapsed.Seconds()).
		Msg("generation")
}

func SessionStart(transcriber, model, backend string) {
	event(zerolog.InfoLevel).
		Str("transcriber", transcriber).
		Str("model", model).
		Str("backend", backend).
		Msg("session_start")
}

func SessionEnd(fragments, images int) {
	event(zerolog.InfoLevel).
		Int("fragments", fragments).
		Int("images", images).
		Msg("session_end")
}
