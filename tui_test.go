package main

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"voxcoach/analysis"
	"voxcoach/audio"
	"voxcoach/config"
	"voxcoach/recognizer"
	"voxcoach/session"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

func TestRenderWaveform(t *testing.T) {
	var f waveform.Frame
	f[0] = 255
	f[1] = 128
	rows := renderWaveform(f, 4)
	if len(rows) != 4 {
		t.Fatalf("got %d rows", len(rows))
	}
	for i, row := range rows {
		if n := utf8.RuneCountInString(row); n != waveform.Bars {
			t.Fatalf("row %d has %d columns", i, n)
		}
		r := []rune(row)
		if r[0] != '█' {
			t.Errorf("row %d: full bar drew %q", i, r[0])
		}
		if r[2] != ' ' {
			t.Errorf("row %d: empty bar drew %q", i, r[2])
		}
	}
	// half height fills the bottom two rows only
	if []rune(rows[0])[1] != ' ' || []rune(rows[3])[1] != '█' {
		t.Errorf("half bar: top %q bottom %q", []rune(rows[0])[1], []rune(rows[3])[1])
	}
}

func TestScoreBar(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0, "░░░░░░░░░░"},
		{50, "█████░░░░░"},
		{100, "██████████"},
		{140, "██████████"},
	}
	for _, tt := range tests {
		if got := scoreBar(tt.v, 10); got != tt.want {
			t.Errorf("scoreBar(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("the quick brown fox jumps", 10)
	want := []string{"the quick", "brown fox", "jumps"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("wrapText = %q", got)
	}
	if got := wrapText("", 10); len(got) != 1 || got[0] != "" {
		t.Errorf("empty = %q", got)
	}
}

func newTestModel(t *testing.T) tuiModel {
	t.Helper()
	m := session.New(session.Deps{
		Audio:      audio.NewFakeContextPCM(nil, false),
		Recognizer: recognizer.NewFake(),
		Jitter:     analysis.NoJitter{},
	}, session.Config{})
	return newTUIModel(newApp(m, nil, config.Default()), false)
}

func TestModelFollowsSession(t *testing.T) {
	m := newTestModel(t)
	step := func(msg any) {
		next, _ := m.Update(msg)
		m = next.(tuiModel)
	}

	step(stateMsg{Session: session.Session{ID: "a", State: session.Recording}})
	step(elapsedMsg{ID: "a", Seconds: 5})
	step(elapsedMsg{ID: "old", Seconds: 99})
	step(waveMsg{Level: 40})
	step(wordsMsg{Words: []transcript.Word{transcript.NewWord("hello", 0.9, 0)}})
	step(partialMsg{Text: "wor"})
	if m.sess.ElapsedSeconds != 5 || m.level != 40 || len(m.words) != 1 || m.partial != "wor" {
		t.Fatalf("model = %+v", m)
	}

	step(stateMsg{Session: session.Session{ID: "a", State: session.Reviewing, ElapsedSeconds: 5}})
	step(waveMsg{Level: 90})
	if m.level != 40 {
		t.Error("waveform updated outside recording")
	}
	step(resultMsg{ID: "a", Report: analysis.Report{Result: analysis.Result{Clarity: 80}}})
	if m.report == nil {
		t.Fatal("result not stored")
	}

	// a new session clears the previous one
	step(stateMsg{Session: session.Session{ID: "b", State: session.Recording}})
	if m.report != nil || len(m.words) != 0 {
		t.Error("previous session leaked into the new one")
	}

	step(stateMsg{Session: session.Session{ID: "b", State: session.Idle}, Cond: session.ErrNoSpeechDetected})
	if !strings.Contains(m.statusLine(), "no speech detected") {
		t.Errorf("status line = %q", m.statusLine())
	}

	step(statusMsg{Err: errors.New("boom")})
	if m.status != "boom" || !m.statusErr {
		t.Errorf("status = %q err=%v", m.status, m.statusErr)
	}
}

func TestRenderReport(t *testing.T) {
	r := analysis.Report{
		Metrics: analysis.Metrics{Words: 4, Correct: 3, WordsPerMinute: 4},
		Result:  analysis.Result{Clarity: 75, Pace: 0, Volume: 70, Confidence: 80, Pronunciation: 75},
	}
	out := renderReport(r)
	for _, want := range []string{"60% fair", "clarity", "pronunciation", "3/4 words correct"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
