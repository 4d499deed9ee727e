package analysis

import (
	"math"
	"strings"
	"testing"

	"voxcoach/transcript"
)

func words(confs ...float64) []transcript.Word {
	out := make([]transcript.Word, len(confs))
	for i, c := range confs {
		out[i] = transcript.NewWord("w", c, uint64(i))
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScoreDeterministic(t *testing.T) {
	// 10 words, 8 above threshold, 4 seconds -> 150 wpm.
	ws := words(0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.5, 0.5)
	m, r := Score(ws, 4, NoJitter{})

	if m.Correct != 8 || !approx(m.Accuracy, 80) {
		t.Errorf("accuracy = %v (%d correct)", m.Accuracy, m.Correct)
	}
	if !approx(m.WordsPerMinute, 150) {
		t.Errorf("wpm = %v", m.WordsPerMinute)
	}
	if !approx(m.MeanConfidence, 0.82) {
		t.Errorf("mean confidence = %v", m.MeanConfidence)
	}
	want := Result{Clarity: 80, Pace: 100, Volume: 70, Confidence: 82, Pronunciation: 80}
	if !approx(r.Clarity, want.Clarity) || !approx(r.Pace, want.Pace) || !approx(r.Volume, want.Volume) ||
		!approx(r.Confidence, want.Confidence) || !approx(r.Pronunciation, want.Pronunciation) {
		t.Errorf("result = %+v, want %+v", r, want)
	}
	if r.Overall() != 82 {
		t.Errorf("overall = %d, want 82", r.Overall())
	}
}

func TestPaceScore(t *testing.T) {
	tests := []struct {
		wpm, want float64
	}{
		{0, 0},
		{60, 10},
		{119, 69},
		{120, 100},
		{180, 100},
		{181, 69},
		{300, 0},
	}
	for _, tt := range tests {
		if got := PaceScore(tt.wpm); !approx(got, tt.want) {
			t.Errorf("PaceScore(%v) = %v, want %v", tt.wpm, got, tt.want)
		}
	}
}

func TestZeroElapsed(t *testing.T) {
	m, r := Score(words(0.9), 0, NoJitter{})
	if m.WordsPerMinute != 0 {
		t.Errorf("wpm = %v, want 0", m.WordsPerMinute)
	}
	if r.Pace != 0 {
		t.Errorf("pace = %v, want 0", r.Pace)
	}
	if math.IsNaN(r.Clarity) || math.IsInf(m.WordsPerMinute, 0) {
		t.Error("non-finite metric")
	}
}

type maxJitter struct{}

func (maxJitter) Sample(max float64) float64 { return max }

func TestScoreBounded(t *testing.T) {
	_, r := Score(words(1, 1, 1), 1, maxJitter{})
	for _, m := range r.Named() {
		if m.Value < 0 || m.Value > 100 {
			t.Errorf("%s = %v out of range", m.Name, m.Value)
		}
	}
	if r.Clarity != 100 || r.Volume != 95 {
		t.Errorf("clarity %v volume %v", r.Clarity, r.Volume)
	}
}

func TestRandJitterSeeded(t *testing.T) {
	a, b := NewRandJitter(42), NewRandJitter(42)
	for range 20 {
		x, y := a.Sample(10), b.Sample(10)
		if x != y {
			t.Fatal("same seed produced different jitter")
		}
		if x < 0 || x >= 10 {
			t.Fatalf("jitter %v out of [0,10)", x)
		}
	}
	ws := words(0.8, 0.6, 0.95)
	_, r := Score(ws, 2, NewRandJitter(7))
	m := Measure(ws, 2)
	if r.Clarity < m.Accuracy || r.Clarity > min(100, m.Accuracy+clarityJitter) {
		t.Errorf("clarity %v outside jitter band around %v", r.Clarity, m.Accuracy)
	}
	if r.Volume < volumeBaseline || r.Volume >= volumeBaseline+volumeJitter {
		t.Errorf("volume %v outside baseline band", r.Volume)
	}
}

func TestGradeAndShare(t *testing.T) {
	if GradeOf(80) != GradeGood || GradeOf(79.9) != GradeFair || GradeOf(60) != GradeFair || GradeOf(59) != GradePoor {
		t.Error("grade thresholds wrong")
	}
	r := Result{Clarity: 90, Pace: 90, Volume: 90, Confidence: 90, Pronunciation: 90}
	got := r.ShareText("Tongue Twisters")
	if !strings.Contains(got, "90% overall score") || !strings.Contains(got, "Practicing with Tongue Twisters.") {
		t.Errorf("share text = %q", got)
	}
}
