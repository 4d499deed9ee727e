package recognizer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Utterance is one scripted final result.
type Utterance struct {
	Text       string
	Confidence float64
	After      time.Duration // delay since the previous utterance
}

// FakeSource replays a script of utterances for every stream it opens. It
// backs the headless mode and tests.
type FakeSource struct {
	Script []Utterance

	// HoldEnd makes Stop not confirm termination, so only Abort ends the
	// stream.
	HoldEnd bool

	mu        sync.Mutex
	failOpens int
	streams   []*FakeStream
	opened    chan *FakeStream
}

func NewFake(script ...Utterance) *FakeSource {
	return &FakeSource{Script: script, opened: make(chan *FakeStream, 16)}
}

// ParseScript builds utterances from lines of text, one utterance per line.
func ParseScript(text string, confidence float64, gap time.Duration) []Utterance {
	var out []Utterance
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, Utterance{Text: line, Confidence: confidence, After: gap})
		}
	}
	return out
}

// FailOpens makes the next n opened streams fail with a network error.
func (f *FakeSource) FailOpens(n int) {
	f.mu.Lock()
	f.failOpens = n
	f.mu.Unlock()
}

func (f *FakeSource) Name() string { return "fake" }

func (f *FakeSource) Open(_ context.Context, opts Options) (Stream, error) {
	f.mu.Lock()
	fail := f.failOpens > 0
	if fail {
		f.failOpens--
	}
	s := &FakeStream{
		opts:    opts,
		events:  make(chan Event, eventBuffer),
		stop:    make(chan struct{}),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
		holdEnd: f.HoldEnd,
	}
	f.streams = append(f.streams, s)
	f.mu.Unlock()

	select {
	case f.opened <- s:
	default:
	}

	if fail {
		go s.failNow()
	} else {
		go s.run(f.Script)
	}
	return s, nil
}

// Opened yields streams as they are opened.
func (f *FakeSource) Opened() <-chan *FakeStream { return f.opened }

func (f *FakeSource) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeStream, len(f.streams))
	copy(out, f.streams)
	return out
}

type FakeStream struct {
	opts    Options
	events  chan Event
	holdEnd bool

	mu      sync.Mutex
	fed     int
	stopped bool
	aborted bool
	ended   bool

	stop      chan struct{}
	abort     chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	abortOnce sync.Once
	endOnce   sync.Once
}

func (s *FakeStream) run(script []Utterance) {
	for _, u := range script {
		if u.After > 0 {
			select {
			case <-time.After(u.After):
			case <-s.stop:
				s.awaitEnd()
				return
			case <-s.abort:
				s.end()
				return
			}
		}
		words := strings.Fields(u.Text)
		if s.opts.Interim && len(words) > 1 {
			s.Emit(Event{Kind: Partial, Text: words[0]})
		}
		s.Emit(Event{Kind: Final, Segments: []Segment{{Text: u.Text, Confidence: u.Confidence}}})
		if !s.opts.Continuous {
			break
		}
	}
	select {
	case <-s.stop:
		s.awaitEnd()
	case <-s.abort:
		s.end()
	}
}

func (s *FakeStream) awaitEnd() {
	if !s.holdEnd {
		s.end()
		return
	}
	<-s.abort
	s.end()
}

func (s *FakeStream) failNow() {
	s.Emit(errorEvent(CodeNetwork, errors.New("connection refused")))
	s.end()
}

func (s *FakeStream) end() {
	s.endOnce.Do(func() {
		s.Emit(Event{Kind: End})
		s.mu.Lock()
		s.ended = true
		close(s.events)
		s.mu.Unlock()
		close(s.done)
	})
}

// Emit injects an event. It is dropped once the stream has ended.
func (s *FakeStream) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.events <- ev:
	case <-s.abort:
	}
}

func (s *FakeStream) Feed(pcm []byte) {
	s.mu.Lock()
	s.fed += len(pcm)
	s.mu.Unlock()
}

func (s *FakeStream) Fed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

func (s *FakeStream) Events() <-chan Event { return s.events }

func (s *FakeStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	})
	return nil
}

func (s *FakeStream) Abort() {
	s.abortOnce.Do(func() {
		close(s.abort)
		s.mu.Lock()
		s.aborted = true
		s.mu.Unlock()
	})
}

func (s *FakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *FakeStream) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// End confirms termination, as a service would after Stop.
func (s *FakeStream) End() { s.end() }

func (s *FakeStream) Opts() Options { return s.opts }

// Done is closed once the stream has confirmed termination.
func (s *FakeStream) Done() <-chan struct{} { return s.done }
