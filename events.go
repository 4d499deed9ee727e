package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"voxcoach/analysis"
	"voxcoach/session"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

// TUI messages produced by session events
type stateMsg struct {
	Session session.Session
	Cond    error
}
type elapsedMsg struct {
	ID      string
	Seconds uint32
}
type waveMsg struct {
	Frame waveform.Frame
	Level float64
}
type partialMsg struct{ Text string }
type wordsMsg struct{ Words []transcript.Word }
type warningMsg struct{ Err error }
type resultMsg struct {
	ID     string
	Report analysis.Report
}

// statusMsg is a one-line note from a user command (saved, copied, ...).
type statusMsg struct {
	Text string
	Err  error
}

// tuiSink forwards session events into the Bubble Tea program.
type tuiSink struct {
	send func(tea.Msg)
}

var _ session.EventSink = tuiSink{}

func (s tuiSink) StateChanged(sess session.Session, cond error) {
	s.send(stateMsg{Session: sess, Cond: cond})
}

func (s tuiSink) Tick(id string, elapsed uint32) {
	s.send(elapsedMsg{ID: id, Seconds: elapsed})
}

func (s tuiSink) Waveform(_ string, f waveform.Frame, level float64) {
	s.send(waveMsg{Frame: f, Level: level})
}

func (s tuiSink) Partial(_ string, text string) { s.send(partialMsg{Text: text}) }

func (s tuiSink) Words(_ string, words []transcript.Word) { s.send(wordsMsg{Words: words}) }

func (s tuiSink) Warning(_ string, err error) { s.send(warningMsg{Err: err}) }

func (s tuiSink) Result(id string, r analysis.Report) { s.send(resultMsg{ID: id, Report: r}) }
