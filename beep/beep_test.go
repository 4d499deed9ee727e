package beep

import (
	"errors"
	"testing"

	"voxcoach/audio"
	"voxcoach/session"
)

func peak(s []int16) int16 {
	var m int16
	for _, v := range s {
		if v > m {
			m = v
		} else if -v > m {
			m = -v
		}
	}
	return m
}

func TestSamples(t *testing.T) {
	start := Samples(Start)
	if len(start) != sampleRate/5 {
		t.Fatalf("start cue has %d samples, want %d", len(start), sampleRate/5)
	}
	if p := peak(start); p < 10000 || p > 16384 {
		t.Errorf("start peak = %d", p)
	}
	// decays towards silence
	if tail := peak(start[len(start)-100:]); tail > 100 {
		t.Errorf("start tail peak = %d", tail)
	}

	errCue := Samples(Error)
	beep := int(sampleRate * 0.08)
	gap := int(sampleRate * 0.05)
	if len(errCue) != 2*beep+gap {
		t.Fatalf("error cue has %d samples", len(errCue))
	}
	if peak(errCue[beep:beep+gap]) != 0 {
		t.Error("gap is not silent")
	}
	if Samples(Cue(7)) != nil {
		t.Error("unknown cue returned samples")
	}
}

func TestSinkPlaysOnTransitions(t *testing.T) {
	out := &audio.FakePlayer{}
	p := New(out)
	s := NewSink(p)

	s.StateChanged(session.Session{State: session.Recording}, nil)
	p.Wait()
	s.StateChanged(session.Session{State: session.Stopping}, nil)
	s.StateChanged(session.Session{State: session.Reviewing}, nil)
	p.Wait()
	s.StateChanged(session.Session{State: session.Idle}, errors.New("mic gone"))
	p.Wait()

	played := out.Played()
	if len(played) != 3 {
		t.Fatalf("played %d cues, want 3", len(played))
	}
	if len(played[0]) != len(Samples(Start)) || len(played[2]) != len(Samples(Error)) {
		t.Error("cues played out of order")
	}
}

func TestNilPlayerIsSilent(t *testing.T) {
	var p *Player
	p.Play(Start)
	p.Wait()
	NewSink(New(nil)).StateChanged(session.Session{State: session.Recording}, nil)
}
