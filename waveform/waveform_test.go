package waveform

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReduceTakesFirstOfBucket(t *testing.T) {
	bins := make([]byte, 128)
	for i := range bins {
		bins[i] = byte(i)
	}
	f, level := Reduce(bins)
	for i := range f {
		want := byte(i * 128 / Bars)
		if f[i] != want {
			t.Errorf("f[%d] = %d, want %d", i, f[i], want)
		}
	}
	if level != 63.5 {
		t.Errorf("level = %v, want 63.5", level)
	}
}

func TestReduceSmallInput(t *testing.T) {
	f, level := Reduce([]byte{10, 20})
	if f[0] != 10 || f[Bars-1] != 20 {
		t.Errorf("frame = %v", f)
	}
	if level != 15 {
		t.Errorf("level = %v", level)
	}

	f, level = Reduce(nil)
	if f != (Frame{}) || level != 0 {
		t.Errorf("empty input gave %v %v", f, level)
	}
}

type constSource struct{ v byte }

func (c constSource) FrequencyData() []byte {
	b := make([]byte, 128)
	for i := range b {
		b[i] = c.v
	}
	return b
}

func TestSamplerNoCallbackAfterStop(t *testing.T) {
	var calls atomic.Int32
	var stopped atomic.Bool
	var late atomic.Bool
	s := NewSampler(constSource{v: 200}, time.Millisecond, func(f Frame, level float64) {
		if stopped.Load() {
			late.Store(true)
		}
		if f[0] != 200 || level != 200 {
			t.Errorf("unexpected frame %v level %v", f[0], level)
		}
		calls.Add(1)
	})
	s.Start()
	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("sampler did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	s.Stop()
	stopped.Store(true)
	time.Sleep(20 * time.Millisecond)
	if late.Load() {
		t.Fatal("callback fired after Stop returned")
	}
	s.Stop()
}

func TestSamplerStopBeforeStart(t *testing.T) {
	s := NewSampler(constSource{}, time.Millisecond, func(Frame, float64) {
		t.Error("should never be called")
	})
	s.Stop()
	s.Start()
	time.Sleep(10 * time.Millisecond)
}

func TestSamplerConcurrentStop(t *testing.T) {
	s := NewSampler(constSource{}, time.Millisecond, func(Frame, float64) {})
	s.Start()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
}
