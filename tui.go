package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"voxcoach/analysis"
	"voxcoach/clock"
	"voxcoach/hotkey"
	"voxcoach/session"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

const waveRows = 6

// Bar glyphs from empty to full, one eighth per step.
var barGlyphs = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

type animMsg time.Time

type tuiModel struct {
	app    *app
	hotkey bool

	sess          session.Session
	cond          error
	frame         waveform.Frame
	level         float64
	partial       string
	words         []transcript.Word
	warning       string
	report        *analysis.Report
	status        string
	statusErr     bool
	device        string
	bluetooth     bool
	width, height int
	blink         bool
}

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	phraseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("117")).Italic(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	wrongStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Underline(true)
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	waveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	waveIdle     = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKey      = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)

	gradeColors = map[analysis.Grade]string{
		analysis.GradeGood: "42",
		analysis.GradeFair: "214",
		analysis.GradePoor: "203",
	}
)

func newTUIModel(a *app, withHotkey bool) tuiModel {
	return tuiModel{app: a, hotkey: withHotkey}
}

func animTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return animMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return animTick()
}

// async wraps a blocking command so it executes off the UI goroutine.
func async(fn func() statusMsg) tea.Cmd {
	return func() tea.Msg { return fn() }
}

func errStatus(err error) statusMsg { return statusMsg{Err: err} }

func (m tuiModel) command(key string) tea.Cmd {
	a := m.app
	switch key {
	case " ", "enter":
		return async(func() statusMsg {
			if err := a.toggle(context.Background()); err != nil && !errors.Is(err, session.ErrNoSpeechDetected) {
				return errStatus(err)
			}
			return statusMsg{}
		})
	case "r":
		return async(func() statusMsg {
			if err := a.reset(context.Background()); err != nil {
				return errStatus(err)
			}
			return statusMsg{Text: "reset"}
		})
	case "p":
		return async(func() statusMsg {
			if err := a.play(nil); err != nil {
				return errStatus(err)
			}
			return statusMsg{Text: "playing recording"}
		})
	case "s":
		return async(func() statusMsg {
			path, err := a.save()
			if err != nil {
				return errStatus(err)
			}
			return statusMsg{Text: "saved " + path}
		})
	case "c":
		return async(func() statusMsg {
			if _, err := a.shareText(); err != nil {
				return errStatus(err)
			}
			return statusMsg{Text: "✓ result copied"}
		})
	case "e":
		return async(func() statusMsg {
			ex, err := a.nextExercise()
			if err != nil {
				return errStatus(err)
			}
			return statusMsg{Text: "exercise: " + ex.Name}
		})
	}
	return nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch k := msg.String(); k {
		case "ctrl+c", "q":
			return m, tea.Quit
		default:
			return m, m.command(k)
		}

	case animMsg:
		m.blink = !m.blink
		return m, animTick()

	case stateMsg:
		if msg.Session.ID != m.sess.ID {
			m.words = nil
			m.partial = ""
			m.warning = ""
			m.report = nil
			m.frame = waveform.Frame{}
			m.level = 0
		}
		m.sess = msg.Session
		m.cond = msg.Cond
		if msg.Session.State == session.Recording {
			snap := m.app.machine.Snapshot()
			m.device = snap.DeviceName
			m.bluetooth = snap.Bluetooth
		}
		if msg.Session.State == session.Idle {
			m.frame = waveform.Frame{}
			m.level = 0
		}

	case elapsedMsg:
		if msg.ID == m.sess.ID {
			m.sess.ElapsedSeconds = msg.Seconds
		}

	case waveMsg:
		if m.sess.State == session.Recording {
			m.frame = msg.Frame
			m.level = msg.Level
		}

	case partialMsg:
		m.partial = msg.Text

	case wordsMsg:
		m.words = append(m.words, msg.Words...)
		m.partial = ""

	case warningMsg:
		m.warning = msg.Err.Error()

	case resultMsg:
		if msg.ID == m.sess.ID {
			r := msg.Report
			m.report = &r
		}

	case statusMsg:
		m.status = msg.Text
		m.statusErr = false
		if msg.Err != nil {
			m.status = msg.Err.Error()
			m.statusErr = true
		}

	case hotkey.Action:
		var key string
		if msg == hotkey.Reset {
			key = "r"
		} else {
			key = " "
		}
		return m, m.command(key)
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	width := max(m.width-2, 20)
	ex, phrase := m.app.current()

	var b strings.Builder
	b.WriteString(titleStyle.Render(ex.Name) + "\n")
	for _, line := range wrapText(`"`+phrase+`"`, width) {
		b.WriteString(phraseStyle.Render(line) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(m.statusLine() + "\n")
	if m.device != "" {
		dev := "mic: " + m.device
		if m.bluetooth {
			dev += warnStyle.Render(" (bluetooth, narrowband)")
		}
		b.WriteString(dimStyle.Render(dev) + "\n")
	}
	b.WriteString("\n")

	style := waveIdle
	if m.sess.State == session.Recording {
		style = waveStyle
	}
	for _, row := range renderWaveform(m.frame, waveRows) {
		b.WriteString(style.Render(row) + "\n")
	}
	b.WriteString("\n")

	if text := m.transcriptView(width); text != "" {
		b.WriteString(text + "\n\n")
	}
	if m.warning != "" && m.sess.State.Active() {
		b.WriteString(warnStyle.Render("⚠ "+m.warning) + "\n")
	}
	if m.report != nil {
		b.WriteString(renderReport(*m.report) + "\n")
	}
	if m.status != "" {
		st := okStyle
		if m.statusErr {
			st = warnStyle
		}
		b.WriteString(st.Render(m.status) + "\n")
	}

	b.WriteString("\n" + m.helpLine())
	return lipgloss.NewStyle().PaddingLeft(1).Width(m.width).Render(b.String())
}

func (m tuiModel) statusLine() string {
	elapsed := clock.FormatElapsed(m.sess.ElapsedSeconds)
	switch m.sess.State {
	case session.Recording:
		dot := "●"
		if m.blink {
			dot = "○"
		}
		return recStyle.Render(fmt.Sprintf("%s REC %s", dot, elapsed))
	case session.Stopping:
		return busyStyle.Render("◌ finishing " + elapsed)
	case session.Analyzing:
		return busyStyle.Render("◌ analyzing " + elapsed)
	case session.Reviewing:
		return okStyle.Render("✓ done " + elapsed)
	}
	if m.cond != nil {
		return warnStyle.Render("○ " + m.cond.Error())
	}
	return dimStyle.Render("○ ready")
}

func (m tuiModel) transcriptView(width int) string {
	if len(m.words) == 0 && m.partial == "" {
		if m.sess.State == session.Recording {
			return dimStyle.Render("listening...")
		}
		return ""
	}
	var parts []string
	for _, w := range m.words {
		if w.IsCorrect {
			parts = append(parts, w.Text)
		} else {
			parts = append(parts, "\x00"+w.Text)
		}
	}
	var lines []string
	for _, line := range wrapText(strings.Join(parts, " "), width) {
		var styled []string
		for _, word := range strings.Fields(line) {
			if strings.HasPrefix(word, "\x00") {
				styled = append(styled, wrongStyle.Render(word[1:]))
			} else {
				styled = append(styled, word)
			}
		}
		lines = append(lines, strings.Join(styled, " "))
	}
	if m.partial != "" {
		lines = append(lines, partialStyle.Render(m.partial))
	}
	return strings.Join(lines, "\n")
}

func (m tuiModel) helpLine() string {
	var action string
	switch m.sess.State {
	case session.Recording:
		action = " stop"
	case session.Stopping, session.Analyzing:
		action = " wait"
	default:
		action = " start"
	}
	line := helpKey.Render("space") + helpStyle.Render(action) +
		helpKey.Render("  r") + helpStyle.Render(" reset") +
		helpKey.Render("  p") + helpStyle.Render(" play") +
		helpKey.Render("  s") + helpStyle.Render(" save") +
		helpKey.Render("  c") + helpStyle.Render(" copy") +
		helpKey.Render("  e") + helpStyle.Render(" exercise") +
		helpKey.Render("  q") + helpStyle.Render(" quit")
	if m.hotkey {
		line += "\n" + helpKey.Render(hotkey.Chord) + helpStyle.Render(" tap to start/stop, hold to reset")
	}
	return line + "\n" + helpStyle.Render("voxcoach "+version)
}

// renderWaveform draws the frame as vertical bars, top row first.
func renderWaveform(f waveform.Frame, rows int) []string {
	steps := len(barGlyphs) - 1
	out := make([]string, rows)
	for r := range rows {
		floor := (rows - 1 - r) * steps
		var line strings.Builder
		for _, v := range f {
			h := int(v) * rows * steps / 255
			fill := min(max(h-floor, 0), steps)
			line.WriteRune(barGlyphs[fill])
		}
		out[r] = line.String()
	}
	return out
}

func renderReport(r analysis.Report) string {
	overall := r.Result.Overall()
	grade := analysis.GradeOf(float64(overall))
	gradeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(gradeColors[grade])).Bold(true)

	var b strings.Builder
	b.WriteString(gradeStyle.Render(fmt.Sprintf("%d%% %s", overall, grade)) + "\n")
	for _, s := range r.Result.Named() {
		b.WriteString(fmt.Sprintf("%-14s %s %3.0f\n", s.Name, scoreBar(s.Value, 20), s.Value))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d/%d words correct, %.0f wpm",
		r.Metrics.Correct, r.Metrics.Words, r.Metrics.WordsPerMinute)))
	return b.String()
}

func scoreBar(v float64, width int) string {
	n := int(v/100*float64(width) + 0.5)
	n = min(max(n, 0), width)
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
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
