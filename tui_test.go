package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"illustrator/gating"
	"illustrator/imagegen"
)

func update(t *testing.T, m tuiModel, msgs ...tea.Msg) tuiModel {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(tuiModel)
	}
	return m
}

func TestTUICalibrationStartsListening(t *testing.T) {
	m := update(t, tuiModel{}, CalibratedMsg{Threshold: 0.02, Noise: 0.01})
	if m.state != tuiStateListening {
		t.Errorf("state = %v, want listening", m.state)
	}
	if m.threshold != 0.02 {
		t.Errorf("threshold = %v", m.threshold)
	}
}

func TestTUIFragments(t *testing.T) {
	m := update(t, tuiModel{},
		FragmentMsg{Text: "the old mill", Words: 3, WPM: 90},
		FragmentMsg{NoSpeech: true, Words: 3},
		FragmentMsg{Text: "by the river", Words: 6, WPM: 120},
		FragmentMsg{Err: "status 429", Words: 6, WPM: 110},
	)
	if got := strings.Join(m.fragments, " "); got != "the old mill. by the river" {
		t.Errorf("fragments = %q", got)
	}
	if m.words != 6 || m.wpm != 110 {
		t.Errorf("words = %d wpm = %v", m.words, m.wpm)
	}
	if m.lastErr != "status 429" {
		t.Errorf("lastErr = %q", m.lastErr)
	}
}

func TestTUIFragmentTail(t *testing.T) {
	m := tuiModel{}
	for i := 0; i < transcriptTail+5; i++ {
		m = update(t, m, FragmentMsg{Text: "word"})
	}
	if len(m.fragments) != transcriptTail {
		t.Errorf("kept %d fragments, want %d", len(m.fragments), transcriptTail)
	}
}

func TestTUIGatingAndGeneration(t *testing.T) {
	m := update(t, tuiModel{state: tuiStateListening},
		GatingMsg{Decision: gating.Rejected, Probability: 2},
	)
	if m.state != tuiStateListening || m.cycles != 1 || m.lastDecision != "rejected (2/10)" {
		t.Errorf("after rejection: %+v", m)
	}

	m = update(t, m, GatingMsg{Decision: gating.Accepted, Probability: 8, Prompt: "a misty harbor"})
	if m.state != tuiStateGenerating || m.pending != "a misty harbor" {
		t.Errorf("after accept: state=%v pending=%q", m.state, m.pending)
	}

	m = update(t, m,
		GenerationMsg{Backend: "stablehorde", Outcome: imagegen.Completed, Images: 1, Polls: 12, Elapsed: 14 * time.Second},
		DisplayMsg{},
	)
	if m.state != tuiStateListening || m.pending != "" {
		t.Errorf("after generation: state=%v pending=%q", m.state, m.pending)
	}
	if m.lastGen != "stablehorde: completed in 14s, 12 polls" {
		t.Errorf("lastGen = %q", m.lastGen)
	}
	if m.images != 1 || m.lastPrompt != "a misty harbor" {
		t.Errorf("images=%d lastPrompt=%q", m.images, m.lastPrompt)
	}

	m = update(t, m, DisplayMsg{Err: "window closed"})
	if m.images != 1 || m.lastErr != "display: window closed" {
		t.Errorf("display error: images=%d lastErr=%q", m.images, m.lastErr)
	}
}

func TestTUIView(t *testing.T) {
	m := tuiModel{}
	if m.View() != "Loading..." {
		t.Error("expected loading view before the first resize")
	}
	m = update(t, m,
		tea.WindowSizeMsg{Width: 100, Height: 30},
		ModeLineMsg{Text: "[groq | gpt-3.5-turbo | stablehorde]"},
		FragmentMsg{Text: "a lantern swung in the dark"},
		GatingMsg{Decision: gating.Accepted, Probability: 9, Prompt: "a lantern in the dark"},
	)
	view := m.View()
	for _, want := range []string{"ILLUSTRATING", "groq", "a lantern swung in the dark", "Last prompt"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestTUIQuitKey(t *testing.T) {
	_, cmd := tuiModel{}.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not return tea.Quit")
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"the quick brown fox", 10, []string{"the quick", "brown fox"}},
		{"abcdefghijkl", 5, []string{"abcde", "fghij", "kl"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestRenderMeterWidth(t *testing.T) {
	for _, level := range []float64{0, 0.01, 1, 3} {
		got := renderMeter(level, 0.02, 20)
		cells := strings.Count(got, "█") + strings.Count(got, "·") + strings.Count(got, "|")
		if cells != 20 {
			t.Errorf("level %v: %d cells, want 20", level, cells)
		}
	}
	if strings.Count(renderMeter(1, 0, 20), "█") != 20 {
		t.Error("full scale not fully lit")
	}
}
