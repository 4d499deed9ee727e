// Package analysis scores a finished practice session from its word ledger
// and duration.
package analysis

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"voxcoach/transcript"
)

const (
	paceLow    = 120.0
	paceHigh   = 180.0
	paceTarget = 150.0

	// volumeBaseline stands in for a measured loudness score. The capture
	// pipeline reports the real mean level separately in Report.
	volumeBaseline = 70.0

	clarityJitter       = 10
	paceJitter          = 15
	volumeJitter        = 25
	confidenceJitter    = 10
	pronunciationJitter = 15
)

// Jitter returns a value in [0, max).
type Jitter interface {
	Sample(max float64) float64
}

// NoJitter makes scoring fully deterministic.
type NoJitter struct{}

func (NoJitter) Sample(float64) float64 { return 0 }

// RandJitter draws uniform jitter from a seeded source.
type RandJitter struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandJitter(seed uint64) *RandJitter {
	return &RandJitter{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (j *RandJitter) Sample(max float64) float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.r.Float64() * max
}

// Metrics is the deterministic part of scoring.
type Metrics struct {
	Words          int     `json:"words"`
	Correct        int     `json:"correct"`
	Accuracy       float64 `json:"accuracy"`
	WordsPerMinute float64 `json:"words_per_minute"`
	PaceScore      float64 `json:"pace_score"`
	MeanConfidence float64 `json:"mean_confidence"`
}

type Result struct {
	Clarity       float64 `json:"clarity"`
	Pace          float64 `json:"pace"`
	Volume        float64 `json:"volume"`
	Confidence    float64 `json:"confidence"`
	Pronunciation float64 `json:"pronunciation"`
}

// Report is what a session hands to its consumers once analysis completes.
type Report struct {
	Metrics        Metrics `json:"metrics"`
	Result         Result  `json:"result"`
	MeanAudioLevel float64 `json:"mean_audio_level"`
}

func Measure(words []transcript.Word, elapsedSeconds uint32) Metrics {
	m := Metrics{Words: len(words)}
	if len(words) == 0 {
		return m
	}
	var confSum float64
	for _, w := range words {
		if w.IsCorrect {
			m.Correct++
		}
		confSum += w.Confidence
	}
	m.Accuracy = float64(m.Correct) / float64(m.Words) * 100
	m.MeanConfidence = confSum / float64(m.Words)
	if elapsedSeconds > 0 {
		m.WordsPerMinute = float64(m.Words) / (float64(elapsedSeconds) / 60)
	}
	m.PaceScore = PaceScore(m.WordsPerMinute)
	return m
}

// PaceScore is 100 inside the comfortable speaking band and falls off one
// point per word-per-minute away from the target outside it.
func PaceScore(wpm float64) float64 {
	if wpm >= paceLow && wpm <= paceHigh {
		return 100
	}
	return math.Max(0, 100-math.Abs(paceTarget-wpm))
}

// Score computes the five metrics. It does not inspect audio; Volume is a
// baseline plus jitter.
func Score(words []transcript.Word, elapsedSeconds uint32, j Jitter) (Metrics, Result) {
	if j == nil {
		j = NoJitter{}
	}
	m := Measure(words, elapsedSeconds)
	r := Result{
		Clarity:       capped(m.Accuracy + j.Sample(clarityJitter)),
		Pace:          capped(m.PaceScore + j.Sample(paceJitter)),
		Volume:        capped(volumeBaseline + j.Sample(volumeJitter)),
		Confidence:    capped(m.MeanConfidence*100 + j.Sample(confidenceJitter)),
		Pronunciation: capped(m.Accuracy + j.Sample(pronunciationJitter)),
	}
	return m, r
}

func capped(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

// Overall is the rounded mean of the five metrics.
func (r Result) Overall() int {
	return int(math.Round((r.Clarity + r.Pace + r.Volume + r.Confidence + r.Pronunciation) / 5))
}

type Grade string

const (
	GradeGood Grade = "good"
	GradeFair Grade = "fair"
	GradePoor Grade = "poor"
)

func GradeOf(score float64) Grade {
	switch {
	case score >= 80:
		return GradeGood
	case score >= 60:
		return GradeFair
	default:
		return GradePoor
	}
}

// ShareText is the one-line summary offered for sharing.
func (r Result) ShareText(exerciseName string) string {
	return fmt.Sprintf("My speech therapy session results: %d%% overall score. Practicing with %s. #SpeechTherapy #Progress",
		r.Overall(), exerciseName)
}

type NamedScore struct {
	Name  string
	Value float64
}

// Named returns the five scores in display order.
func (r Result) Named() []NamedScore {
	return []NamedScore{
		{"clarity", r.Clarity},
		{"pace", r.Pace},
		{"volume", r.Volume},
		{"confidence", r.Confidence},
		{"pronunciation", r.Pronunciation},
	}
}
