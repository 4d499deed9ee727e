package transcript

import (
	"strings"
	"sync"
)

// CorrectThreshold is the confidence above which a word counts as correct.
const CorrectThreshold = 0.7

type Word struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	TimestampMs uint64  `json:"timestamp_ms"`
	IsCorrect   bool    `json:"is_correct"`
}

// NewWord tags text with a confidence clamped to [0,1] and derives IsCorrect.
func NewWord(text string, confidence float64, tsMs uint64) Word {
	confidence = min(max(confidence, 0), 1)
	return Word{
		Text:        text,
		Confidence:  confidence,
		TimestampMs: tsMs,
		IsCorrect:   confidence > CorrectThreshold,
	}
}

// Ledger is the append-only, arrival-ordered list of recognized words for
// one session. Once frozen it rejects appends.
type Ledger struct {
	mu     sync.Mutex
	words  []Word
	frozen bool
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds words in order. It returns false, appending nothing, if the
// ledger is frozen.
func (l *Ledger) Append(words ...Word) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return false
	}
	l.words = append(l.words, words...)
	return true
}

func (l *Ledger) Freeze() {
	l.mu.Lock()
	l.frozen = true
	l.mu.Unlock()
}

func (l *Ledger) Frozen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.words)
}

// Words returns a copy of the ledger contents.
func (l *Ledger) Words() []Word {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Word, len(l.words))
	copy(out, l.words)
	return out
}

func (l *Ledger) Transcript() string {
	return JoinText(l.Words())
}

func JoinText(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}
