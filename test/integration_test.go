//go:build integration

package test_test

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("ILLUSTRATOR_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "ILLUSTRATOR_TEST_BIN not set; build the binary and point the variable at it")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// writeWAV writes 16kHz mono PCM: quiet noise, a loud tone, then quiet again.
func writeWAV(t *testing.T, path string, quietS, toneS, tailS float64) {
	t.Helper()
	const sampleRate = 16000
	var samples []int16
	quiet := func(seconds float64) {
		for i := 0; i < int(seconds*sampleRate); i++ {
			samples = append(samples, int16(40*math.Sin(float64(i)*0.9)))
		}
	}
	quiet(quietS)
	for i := 0; i < int(toneS*sampleRate); i++ {
		samples = append(samples, int16(9000*math.Sin(2*math.Pi*220*float64(i)/sampleRate)))
	}
	quiet(tailS)

	const headerSize = 44
	dataSize := len(samples) * 2
	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(s))
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

type fakeServices struct {
	*httptest.Server
	transcriptions atomic.Int32
	completions    atomic.Int32
	renders        atomic.Int32
}

// newFakeServices stands in for Whisper, chat completions and the
// Automatic1111 API on one server.
func newFakeServices(t *testing.T, transcript, verdict string) *fakeServices {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(2, 2, color.RGBA{10, 120, 200, 255})
	var pngBuf bytes.Buffer
	png.Encode(&pngBuf, img)
	pngB64 := base64.StdEncoding.EncodeToString(pngBuf.Bytes())

	f := &fakeServices{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		f.transcriptions.Add(1)
		fmt.Fprintf(w, `{"text":%q}`, transcript)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.completions.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","model":"gpt-3.5-turbo",`+
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%q}}]}`, verdict)
	})
	mux.HandleFunc("/sdapi/v1/txt2img", func(w http.ResponseWriter, r *http.Request) {
		f.renders.Add(1)
		fmt.Fprintf(w, `{"images":[%q]}`, pngB64)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

func runIllustrator(t *testing.T, svc *fakeServices, stdin string, args ...string) (logDir, outDir string) {
	t.Helper()
	logDir = t.TempDir()
	outDir = filepath.Join(t.TempDir(), "out")
	cmdArgs := append([]string{"-logpath", logDir, "-out", outDir, "-tui=false", "-env-file", os.DevNull}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "GROQ_API_KEY=") && !strings.HasPrefix(kv, "USE_HORDE=") {
			cmd.Env = append(cmd.Env, kv)
		}
	}
	cmd.Env = append(cmd.Env,
		"OPENAI_API_KEY=test-key",
		"OPENAI_BASE_URL="+svc.URL+"/v1",
		"SD_HOST="+svc.URL,
		"STYLE_MODIFIERS=ink sketch",
		"WARMUP=0s",
		"INTERVAL=300ms",
		"COOLDOWN=1s",
		"CALIBRATION=1s",
		"MIN_WINDOW_CHARS=5",
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("illustrator exited with error: %v\noutput: %s", err, out)
	}
	return logDir, outDir
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestSpeechBecomesImage(t *testing.T) {
	wav := filepath.Join(t.TempDir(), "speech.wav")
	writeWAV(t, wav, 1.5, 1.0, 1.5)
	svc := newFakeServices(t,
		"the lighthouse keeper climbed the spiral stairs",
		`{"probability": 8, "prompt": "a lighthouse in a storm"}`)

	logDir, outDir := runIllustrator(t, svc, cmds("WAIT_AUDIO_DONE", "SLEEP 3000", "QUIT"), "-test", wav)

	if svc.transcriptions.Load() == 0 {
		t.Fatal("no transcription requests")
	}
	if !strings.Contains(readLog(t, logDir, "transcript_log.txt"), "lighthouse keeper") {
		t.Error("transcript_log.txt missing the recognized text")
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "calibration", "decision=accepted", "outcome=completed", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "image-0001.png")); err != nil {
		t.Errorf("no image written: %v", err)
	}
}

func TestRejectedWindowRendersNothing(t *testing.T) {
	wav := filepath.Join(t.TempDir(), "speech.wav")
	writeWAV(t, wav, 1.5, 1.0, 1.5)
	svc := newFakeServices(t,
		"um so anyway what was I saying",
		`{"probability": 1, "prompt": ""}`)

	logDir, outDir := runIllustrator(t, svc, cmds("WAIT_AUDIO_DONE", "SLEEP 2000", "QUIT"), "-test", wav)

	if svc.completions.Load() == 0 {
		t.Fatal("gating never ran")
	}
	if svc.renders.Load() != 0 {
		t.Errorf("%d render requests for a rejected window", svc.renders.Load())
	}
	if !strings.Contains(readLog(t, logDir, "diagnostics_log.txt"), "decision=rejected") {
		t.Error("diagnostics missing the rejection")
	}
	if entries, _ := os.ReadDir(outDir); len(entries) != 0 {
		t.Errorf("output dir has %d files", len(entries))
	}
}

func TestSilenceTranscribesNothing(t *testing.T) {
	wav := filepath.Join(t.TempDir(), "silence.wav")
	writeWAV(t, wav, 3, 0, 0)
	svc := newFakeServices(t, "", `{"probability": 0, "prompt": ""}`)

	_, _ = runIllustrator(t, svc, cmds("WAIT_AUDIO_DONE", "SLEEP 500", "QUIT"), "-test", wav)

	if n := svc.transcriptions.Load(); n != 0 {
		t.Errorf("%d transcription requests for silence", n)
	}
}
