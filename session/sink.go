package session

import (
	"voxcoach/analysis"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

// EventSink observes a Machine. Methods are called outside the machine's
// lock, from whichever goroutine produced the event; each producer delivers
// in order.
type EventSink interface {
	StateChanged(s Session, cond error)
	Tick(id string, elapsed uint32)
	Waveform(id string, f waveform.Frame, level float64)
	Partial(id, text string)
	Words(id string, words []transcript.Word)
	Warning(id string, err error)
	Result(id string, r analysis.Report)
}

// NopSink ignores everything. Embed it to implement part of EventSink.
type NopSink struct{}

func (NopSink) StateChanged(Session, error)              {}
func (NopSink) Tick(string, uint32)                      {}
func (NopSink) Waveform(string, waveform.Frame, float64) {}
func (NopSink) Partial(string, string)                   {}
func (NopSink) Words(string, []transcript.Word)          {}
func (NopSink) Warning(string, error)                    {}
func (NopSink) Result(string, analysis.Report)           {}

type MultiSink []EventSink

func (ms MultiSink) StateChanged(s Session, cond error) {
	for _, x := range ms {
		x.StateChanged(s, cond)
	}
}

func (ms MultiSink) Tick(id string, elapsed uint32) {
	for _, x := range ms {
		x.Tick(id, elapsed)
	}
}

func (ms MultiSink) Waveform(id string, f waveform.Frame, level float64) {
	for _, x := range ms {
		x.Waveform(id, f, level)
	}
}

func (ms MultiSink) Partial(id, text string) {
	for _, x := range ms {
		x.Partial(id, text)
	}
}

func (ms MultiSink) Words(id string, words []transcript.Word) {
	for _, x := range ms {
		x.Words(id, words)
	}
}

func (ms MultiSink) Warning(id string, err error) {
	for _, x := range ms {
		x.Warning(id, err)
	}
}

func (ms MultiSink) Result(id string, r analysis.Report) {
	for _, x := range ms {
		x.Result(id, r)
	}
}
