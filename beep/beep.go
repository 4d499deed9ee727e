// Package beep plays short audible cues when a practice session starts,
// finishes, or fails.
package beep

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"voxcoach/audio"
	"voxcoach/log"
	"voxcoach/session"
)

const sampleRate = 44100

const (
	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

const playTimeout = 2 * time.Second

type Cue int

const (
	Start Cue = iota
	End
	Error
)

var (
	samplesOnce sync.Once
	samples     [3][]int16
)

func initSamples() {
	samples[Start] = Tick(startFreq, 0.2, startVolume, startDecay)
	samples[End] = Tick(endFreq, 0.2, endVolume, endDecay)
	samples[Error] = DoubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// Samples returns the mono PCM for c at the cue sample rate.
func Samples(c Cue) []int16 {
	samplesOnce.Do(initSamples)
	if c < Start || c > Error {
		return nil
	}
	return samples[c]
}

// Tick is an exponentially decaying sine.
func Tick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * math.Exp(-t*decay))
	}
	return out
}

func DoubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := Tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(sampleRate*gapDur))
	out := make([]int16, 0, len(beep)*2+len(gap))
	out = append(out, beep...)
	out = append(out, gap...)
	return append(out, beep...)
}

// Player plays cues without blocking the caller. A nil *Player is silent.
type Player struct {
	out audio.Player
	wg  sync.WaitGroup
}

func New(out audio.Player) *Player {
	return &Player{out: out}
}

func (p *Player) Play(c Cue) {
	if p == nil || p.out == nil {
		return
	}
	pcm := Samples(c)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		if err := p.out.Play(ctx, pcm, sampleRate); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("cue playback: %v", err)
		}
	}()
}

// Wait blocks until queued cues have finished.
func (p *Player) Wait() {
	if p != nil {
		p.wg.Wait()
	}
}

// Sink sounds a cue on session transitions.
type Sink struct {
	session.NopSink
	p *Player
}

var _ session.EventSink = Sink{}

func NewSink(p *Player) Sink { return Sink{p: p} }

func (s Sink) StateChanged(sess session.Session, cond error) {
	switch {
	case cond != nil:
		s.p.Play(Error)
	case sess.State == session.Recording:
		s.p.Play(Start)
	case sess.State == session.Reviewing:
		s.p.Play(End)
	}
}
