package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() {
		Close()
		SetDir("")
		EchoTo(nil)
		level = zerolog.InfoLevel
	})
	return tmp
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("ILLUSTRATOR_LOG_PATH", "/tmp/illustrator-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/illustrator-env-log" {
		t.Errorf("got %q, want /tmp/illustrator-env-log", got)
	}
}

func TestResolveDirFlagBeatsEnv(t *testing.T) {
	t.Setenv("ILLUSTRATOR_LOG_PATH", "/tmp/from-env")
	got, err := ResolveDir("/tmp/from-flag")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/from-flag" {
		t.Errorf("got %q", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("ILLUSTRATOR_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "illustrator") {
		t.Errorf("default directory %q does not name the app", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{DiagnosticsFile, TranscriptFile} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestFragment(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Fragment("the wolf crossed the frozen river")

	line := readFile(t, filepath.Join(tmp, TranscriptFile))
	if !strings.Contains(line, "the wolf crossed the frozen river") {
		t.Errorf("transcript_log.txt missing text, got: %q", line)
	}
	// format: "2006-01-02 15:04:05\t[pid]\ttext\n"
	if parts := strings.Split(strings.TrimSuffix(line, "\n"), "\t"); len(parts) != 3 {
		t.Errorf("expected 3 tab-separated fields, got: %q", line)
	}
}

func TestStructuredEvents(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init(); err != nil {
		t.Fatal(err)
	}

	SessionStart("groq", "gpt-3.5-turbo", "stablehorde")
	Calibration(0.021, 0.014, 2*time.Second)
	Gating(GatingEvent{Cycle: "c1", Decision: "accepted", Probability: 8, Prompt: "a wolf", WindowChars: 120})
	Generation(GenerationEvent{Cycle: "c1", Backend: "stablehorde", JobID: "job-1", Outcome: "timed_out", Polls: 120, Err: errors.New("not done")})
	SessionEnd(12, 3)

	diag := readFile(t, filepath.Join(tmp, DiagnosticsFile))
	for _, want := range []string{
		"session_start", "transcriber=groq", "backend=stablehorde",
		"calibration", "threshold=0.021",
		"gating", "decision=accepted", "probability=8",
		"generation", "outcome=timed_out", "polls=120", "WRN",
		"session_end", "fragments=12",
	} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, diag)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	tmp := setupLogDir(t)
	if err := SetLevel("warn"); err != nil {
		t.Fatal(err)
	}
	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Debugf("hidden %d", 1)
	Info("also hidden")
	Warnf("shown %d", 2)

	diag := readFile(t, filepath.Join(tmp, DiagnosticsFile))
	if strings.Contains(diag, "hidden") {
		t.Errorf("below-level messages written: %s", diag)
	}
	if !strings.Contains(diag, "shown 2") {
		t.Errorf("warn message missing: %s", diag)
	}
}

func TestSetLevelInvalid(t *testing.T) {
	if err := SetLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestEchoTo(t *testing.T) {
	setupLogDir(t)
	var buf bytes.Buffer
	EchoTo(&buf)
	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Info("echoed line")
	if !strings.Contains(buf.String(), "echoed line") {
		t.Errorf("console echo missing message: %q", buf.String())
	}
}

func TestNotReadyIsNoop(t *testing.T) {
	Close()
	Info("nothing")
	Fragment("nothing")
	Gating(GatingEvent{})
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
