package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"illustrator/gating"
	"illustrator/imagegen"
	"illustrator/pipeline"
	"illustrator/transcriber"
	"illustrator/transcript"
)

// TUI message types
type AudioLevelMsg struct{ Level float64 }
type CalibratedMsg struct{ Threshold, Noise float64 }
type FragmentMsg struct {
	Text     string
	NoSpeech bool
	Err      string
	Words    int
	WPM      float64
}
type GatingMsg struct {
	Cycle       string
	Decision    gating.Decision
	Probability int
	Prompt      string
}
type GenerationMsg struct {
	Cycle   string
	Backend string
	Outcome imagegen.Outcome
	Images  int
	Polls   int
	Elapsed time.Duration
	Err     string
}
type DisplayMsg struct{ Err string }
type ModeLineMsg struct{ Text string }   // transcriber, gating model, backend
type DeviceLineMsg struct{ Text string } // microphone device name
type tickMsg time.Time

type tuiState int

const (
	tuiStateCalibrating tuiState = iota
	tuiStateListening
	tuiStateGenerating
)

// transcriptTail is how many recent fragments the transcript panel keeps.
const transcriptTail = 40

type tuiModel struct {
	state         tuiState
	frame         int
	audioLevel    float64
	threshold     float64
	width, height int
	modeLine      string
	deviceLine    string

	fragments []string
	words     int
	wpm       float64
	lastErr   string

	cycles       int
	lastDecision string
	lastPrompt   string
	pending      string // prompt being rendered
	lastGen      string
	images       int
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Italic(true)
	meterStyles = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func NewTUIProgram() *tea.Program {
	return tea.NewProgram(tuiModel{}, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case AudioLevelMsg:
		m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4

	case CalibratedMsg:
		m.threshold = msg.Threshold
		if m.state == tuiStateCalibrating {
			m.state = tuiStateListening
		}

	case FragmentMsg:
		m.words = msg.Words
		m.wpm = msg.WPM
		switch {
		case msg.Err != "":
			m.lastErr = msg.Err
		case msg.NoSpeech:
			if n := len(m.fragments); n > 0 {
				m.fragments[n-1] += transcript.NoResult
			} else {
				m.fragments = append(m.fragments, transcript.NoResult)
			}
		default:
			m.lastErr = ""
			m.fragments = append(m.fragments, msg.Text)
		}
		if len(m.fragments) > transcriptTail {
			m.fragments = m.fragments[len(m.fragments)-transcriptTail:]
		}

	case GatingMsg:
		m.cycles++
		m.lastDecision = fmt.Sprintf("%s (%d/10)", msg.Decision, msg.Probability)
		if msg.Decision == gating.Accepted {
			m.lastPrompt = msg.Prompt
			m.pending = msg.Prompt
			m.state = tuiStateGenerating
		}

	case GenerationMsg:
		m.pending = ""
		if m.state == tuiStateGenerating {
			m.state = tuiStateListening
		}
		m.lastGen = fmt.Sprintf("%s: %s in %s", msg.Backend, msg.Outcome, msg.Elapsed.Round(100*time.Millisecond))
		if msg.Polls > 0 {
			m.lastGen += fmt.Sprintf(", %d polls", msg.Polls)
		}
		if msg.Err != "" {
			m.lastGen += " (" + msg.Err + ")"
		}

	case DisplayMsg:
		if msg.Err == "" {
			m.images++
		} else {
			m.lastErr = "display: " + msg.Err
		}

	case ModeLineMsg:
		m.modeLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const statusWidth = 36

	var info []string
	switch m.state {
	case tuiStateCalibrating:
		info = append(info, warnStyle.Render("◌ CALIBRATING, stay quiet"))
	case tuiStateGenerating:
		spin := []string{"◐", "◓", "◑", "◒"}[m.frame%4]
		info = append(info, promptStyle.Render(spin+" ILLUSTRATING"))
	default:
		info = append(info, okStyle.Render("● LISTENING"))
	}
	info = append(info, renderMeter(m.audioLevel, m.threshold, statusWidth-2))
	info = append(info, "")
	if m.modeLine != "" {
		info = append(info, mutedStyle.Render(m.modeLine))
	}
	if m.deviceLine != "" {
		info = append(info, dimStyle.Render(m.deviceLine))
	}
	info = append(info, "")
	info = append(info, dimStyle.Render(fmt.Sprintf("words   %d (%.0f wpm)", m.words, m.wpm)))
	info = append(info, dimStyle.Render(fmt.Sprintf("cycles  %d", m.cycles)))
	info = append(info, dimStyle.Render(fmt.Sprintf("images  %d", m.images)))
	if m.lastDecision != "" {
		info = append(info, dimStyle.Render("gating  "+m.lastDecision))
	}
	for _, line := range wrapText(m.lastGen, statusWidth-2) {
		if line != "" {
			info = append(info, dimStyle.Render(line))
		}
	}
	if m.lastErr != "" {
		for _, line := range wrapText(m.lastErr, statusWidth-2) {
			info = append(info, warnStyle.Render(line))
		}
	}
	info = append(info, "")
	info = append(info, dimStyle.Render("q to quit  illustrator "+version))

	statusPanel := lipgloss.NewStyle().
		Width(statusWidth).
		Height(m.height).
		Render(strings.Join(info, "\n"))

	textWidth := max(m.width-statusWidth-1, 20)
	wrapWidth := max(textWidth-2, 10)

	var right strings.Builder
	if m.lastPrompt != "" {
		right.WriteString(mutedStyle.Render("Last prompt") + "\n")
		for _, line := range wrapText(m.lastPrompt, wrapWidth) {
			right.WriteString(promptStyle.Render(line) + "\n")
		}
		right.WriteString("\n")
	}
	right.WriteString(mutedStyle.Render("Transcript") + "\n")
	if len(m.fragments) == 0 {
		right.WriteString(dimStyle.Render("Nothing heard yet"))
	} else {
		lines := wrapText(strings.Join(m.fragments, " "), wrapWidth)
		// Keep the newest lines when the panel overflows.
		room := m.height - strings.Count(right.String(), "\n") - 1
		if room > 0 && len(lines) > room {
			lines = lines[len(lines)-room:]
		}
		for _, line := range lines {
			right.WriteString(textStyle.Render(line) + "\n")
		}
	}

	textPanel := lipgloss.NewStyle().
		Width(textWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(right.String())

	return lipgloss.JoinHorizontal(lipgloss.Top, statusPanel, textPanel)
}

// renderMeter draws the input level on a -60..0 dBFS scale with a tick at
// the speech threshold.
func renderMeter(level, threshold float64, width int) string {
	cells := func(v float64) int {
		if v <= 0 {
			return 0
		}
		frac := (20*math.Log10(v) + 60) / 60
		return min(max(int(math.Round(frac*float64(width))), 0), width)
	}
	lit, mark := cells(level), cells(threshold)

	var b strings.Builder
	for i := 0; i < width; i++ {
		tone := 0
		if i >= width*9/10 {
			tone = 2
		} else if i >= width*7/10 {
			tone = 1
		}
		switch {
		case i < lit:
			b.WriteString(meterStyles[tone].Render("█"))
		case threshold > 0 && i == mark:
			b.WriteString(mutedStyle.Render("|"))
		default:
			b.WriteString(dimStyle.Render("·"))
		}
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

// tuiObserver forwards pipeline events to the running program.
type tuiObserver struct {
	throughput func() float64
}

func (o tuiObserver) OnFragment(u pipeline.Utterance, words int) {
	msg := FragmentMsg{Text: u.Text, Words: words}
	if o.throughput != nil {
		msg.WPM = o.throughput()
	}
	switch {
	case errors.Is(u.Err, transcriber.ErrNoSpeech):
		msg.NoSpeech = true
	case u.Err != nil:
		msg.Err = u.Err.Error()
	}
	tuiSend(msg)
}

func (o tuiObserver) OnGating(cycle, _ string, res gating.Result, d gating.Decision) {
	tuiSend(GatingMsg{Cycle: cycle, Decision: d, Probability: res.Probability, Prompt: res.Prompt})
}

func (o tuiObserver) OnGeneration(cycle, backend string, res imagegen.Result) {
	msg := GenerationMsg{
		Cycle:   cycle,
		Backend: backend,
		Outcome: res.Outcome,
		Images:  len(res.Images),
		Polls:   res.Polls,
		Elapsed: res.Elapsed,
	}
	if res.Err != nil {
		msg.Err = res.Err.Error()
	}
	tuiSend(msg)
}

func (o tuiObserver) OnDisplay(_ string, err error) {
	msg := DisplayMsg{}
	if err != nil {
		msg.Err = err.Error()
	}
	tuiSend(msg)
}
