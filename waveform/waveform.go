// Package waveform turns the capture tap's frequency bins into the fixed
// size frames the live display draws.
package waveform

import (
	"sync"
	"time"
)

// Bars is the number of samples in a Frame.
const Bars = 50

const DefaultInterval = time.Second / 60

type Frame [Bars]uint8

// Source is anything that can report the current frequency magnitudes as
// bytes in [0,255].
type Source interface {
	FrequencyData() []byte
}

// Reduce downsamples bins into a Frame by taking the first bin of each
// bucket, and returns the mean of all bins as the level. An empty input
// yields a zero frame and level.
func Reduce(bins []byte) (Frame, float64) {
	var f Frame
	if len(bins) == 0 {
		return f, 0
	}
	for i := range f {
		idx := i * len(bins) / Bars
		f[i] = bins[idx]
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return f, float64(sum) / float64(len(bins))
}

// Sampler polls a Source on a fixed cadence and hands each reduced frame to
// a callback.
type Sampler struct {
	src      Source
	interval time.Duration
	onFrame  func(Frame, float64)

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

func NewSampler(src Source, interval time.Duration, onFrame func(Frame, float64)) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{src: src, interval: interval, onFrame: onFrame}
}

func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil || s.stopped {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Sampler) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		// A tick racing with Stop must not deliver.
		select {
		case <-stop:
			return
		default:
		}
		f, level := Reduce(s.src.FrequencyData())
		s.onFrame(f, level)
	}
}

// Stop cancels the loop and waits for it, so onFrame is never invoked after
// Stop returns. Safe to call more than once, or before Start.
func (s *Sampler) Stop() {
	s.mu.Lock()
	s.stopped = true
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
