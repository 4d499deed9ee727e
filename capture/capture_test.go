package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"voxcoach/audio"
	"voxcoach/encoder"
)

func ramp(n int) ([]int16, []byte) {
	samples := make([]int16, n)
	pcm := make([]byte, n*2)
	for i := range samples {
		samples[i] = int16(i%2000 - 1000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(samples[i]))
	}
	return samples, pcm
}

func TestStartStopProducesArtifact(t *testing.T) {
	for _, format := range []string{encoder.FormatFlac, encoder.FormatWav} {
		t.Run(format, func(t *testing.T) {
			want, pcm := ramp(5000)
			actx := audio.NewFakeContextPCM(pcm, false)

			var mu sync.Mutex
			fed := 0
			m := New(actx, Config{Format: format}, func(b []byte) {
				mu.Lock()
				fed += len(b)
				mu.Unlock()
			}, nil)

			h, err := m.Start(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if h.Tap == nil || h.DeviceName != "fake" {
				t.Fatalf("handle = %+v", h)
			}
			<-actx.LastCapture().AudioDone()

			art, err := m.Stop()
			if err != nil {
				t.Fatal(err)
			}
			if art.Ext != format {
				t.Errorf("ext = %q", art.Ext)
			}
			got, err := art.PCM()
			if err != nil {
				t.Fatal(err)
			}
			if len(got) < len(want) {
				t.Fatalf("decoded %d samples, want at least %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
				}
			}
			if art.Frames != uint64(len(got)) {
				t.Errorf("frames = %d, decoded %d", art.Frames, len(got))
			}

			mu.Lock()
			defer mu.Unlock()
			if fed < len(pcm) {
				t.Errorf("listener saw %d bytes, want at least %d", fed, len(pcm))
			}
		})
	}
}

func TestArtifactIsChunksInOrder(t *testing.T) {
	for _, format := range []string{encoder.FormatFlac, encoder.FormatWav} {
		t.Run(format, func(t *testing.T) {
			_, pcm := ramp(20000)
			actx := audio.NewFakeContextPCM(pcm, false)

			var mu sync.Mutex
			var chunks [][]byte
			m := New(actx, Config{Format: format, OnChunk: func(b []byte) {
				mu.Lock()
				chunks = append(chunks, append([]byte(nil), b...))
				mu.Unlock()
			}}, nil, nil)
			if _, err := m.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			<-actx.LastCapture().AudioDone()
			art, err := m.Stop()
			if err != nil {
				t.Fatal(err)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(chunks) == 0 {
				t.Fatal("encoder delivered no chunks")
			}
			if want := bytes.Join(chunks, nil); !bytes.Equal(art.Bytes, want) {
				t.Errorf("artifact is %d bytes, chunks concatenate to %d", len(art.Bytes), len(want))
			}
		})
	}
}

func TestStopIdempotent(t *testing.T) {
	_, pcm := ramp(100)
	m := New(audio.NewFakeContextPCM(pcm, false), Config{}, nil, nil)
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	a1, err := m.Stop()
	if err != nil {
		t.Fatal(err)
	}
	a2, err := m.Stop()
	if err != nil || a1 != a2 {
		t.Errorf("second Stop = %p, %v; want %p", a2, err, a1)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("restart err = %v", err)
	}
}

func TestStopUnstarted(t *testing.T) {
	m := New(audio.NewFakeContextPCM(nil, false), Config{}, nil, nil)
	a, err := m.Stop()
	if a != nil || err != nil {
		t.Errorf("Stop = %v, %v", a, err)
	}
}

func TestStartFailureClassified(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("Permission denied by user"), audio.ErrPermissionDenied},
		{errors.New("no such device"), audio.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		actx := audio.NewFakeContextPCM(nil, false)
		actx.StartErr = tt.err
		m := New(actx, Config{}, nil, nil)
		if _, err := m.Start(context.Background()); !errors.Is(err, tt.want) {
			t.Errorf("Start(%v) = %v, want %v", tt.err, err, tt.want)
		}
		a, err := m.Stop()
		if a != nil || err != nil {
			t.Errorf("Stop after failed start = %v, %v", a, err)
		}
	}
}

func TestStartCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(audio.NewFakeContextPCM(nil, false), Config{}, nil, nil)
	if _, err := m.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestUnknownFormat(t *testing.T) {
	m := New(audio.NewFakeContextPCM(nil, false), Config{Format: "ogg"}, nil, nil)
	if _, err := m.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeviceErrorReportsFailureOnce(t *testing.T) {
	actx := audio.NewFakeContextPCM(make([]byte, 3200), false)
	failures := make(chan error, 4)
	m := New(actx, Config{StallTimeout: -1}, nil, func(err error) { failures <- err })
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	dev := actx.LastCapture()
	dev.Fail(errors.New("device unplugged"))
	dev.Fail(errors.New("device unplugged again"))

	select {
	case err := <-failures:
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			t.Errorf("failure = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure reported")
	}
	if _, err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-failures:
		t.Errorf("second failure reported: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStallReported(t *testing.T) {
	actx := audio.NewFakeContextPCM(make([]byte, 3200), false)
	failures := make(chan error, 1)
	m := New(actx, Config{StallTimeout: 40 * time.Millisecond}, nil, func(err error) { failures <- err })
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	actx.LastCapture().Stall()
	select {
	case err := <-failures:
		if !errors.Is(err, ErrStalled) {
			t.Errorf("failure = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stall not detected")
	}
	m.Stop()
}

func TestNoFailureAfterStop(t *testing.T) {
	actx := audio.NewFakeContextPCM(nil, false)
	failures := make(chan error, 1)
	m := New(actx, Config{}, nil, func(err error) { failures <- err })
	m.Start(context.Background())
	dev := actx.LastCapture()
	m.Stop()
	dev.Fail(errors.New("late"))
	select {
	case err := <-failures:
		t.Errorf("failure after stop: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPushChunkAfterSealDropped(t *testing.T) {
	m := New(audio.NewFakeContextPCM(nil, false), Config{Format: encoder.FormatWav}, nil, nil)
	m.Start(context.Background())
	a, err := m.Stop()
	if err != nil {
		t.Fatal(err)
	}
	n := len(a.Bytes)
	m.PushChunk([]byte("late"))
	if len(a.Bytes) != n || m.size != n {
		t.Error("chunk accepted after stop")
	}
}

func sine(freq float64, amp float64, n int) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/encoder.SampleRate)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func TestTapPeak(t *testing.T) {
	tap := NewTap()
	// bin 16 of a 256 point transform at 16 kHz
	tap.Write(sine(1000, 0.001, FFTSize))
	var bins []byte
	for range 40 {
		bins = tap.FrequencyData()
	}
	if len(bins) != Bins {
		t.Fatalf("len = %d", len(bins))
	}
	peak := 0
	for i, b := range bins {
		if b > bins[peak] {
			peak = i
		}
	}
	if peak != 16 {
		t.Errorf("peak at bin %d (%d), want 16", peak, bins[peak])
	}
	if bins[peak] == 0 || bins[peak] == 255 {
		t.Errorf("peak value %d outside the scaled range", bins[peak])
	}
}

func TestTapSilenceAndClose(t *testing.T) {
	tap := NewTap()
	for _, b := range tap.FrequencyData() {
		if b != 0 {
			t.Fatal("silence produced energy")
		}
	}
	tap.Write(sine(1000, 0.5, FFTSize))
	tap.FrequencyData()
	tap.Close()
	for _, b := range tap.FrequencyData() {
		if b != 0 {
			t.Fatal("closed tap produced energy")
		}
	}
}

func TestScaleDB(t *testing.T) {
	tests := []struct {
		mag  float64
		want byte
	}{
		{0, 0},
		{1e-6, 0},   // -120 dB
		{1e-5, 0},   // -100 dB
		{1, 255},    // 0 dB
		{0.01, 218}, // -40 dB
	}
	for _, tt := range tests {
		if got := scaleDB(tt.mag); got != tt.want {
			t.Errorf("scaleDB(%v) = %d, want %d", tt.mag, got, tt.want)
		}
	}
}

func TestArtifactFileNameAndSave(t *testing.T) {
	a := &Artifact{
		Bytes:     []byte("data"),
		Ext:       "flac",
		CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 890, time.FixedZone("x", 3600)),
	}
	if got := a.FileName(); got != "speech-recording-2026-03-04T04:06:07.flac" {
		t.Errorf("FileName = %q", got)
	}

	dir := filepath.Join(t.TempDir(), "out")
	path, err := a.Save(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(path), "speech-recording-2026-03-04T04") {
		t.Errorf("saved as %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "data" {
		t.Errorf("saved %q, %v", data, err)
	}

	a.Release()
	if !a.Released() {
		t.Error("not released")
	}
	if _, err := a.Save(dir); !errors.Is(err, ErrReleased) {
		t.Errorf("Save after release = %v", err)
	}
	a.Release()
}

func TestArtifactPlay(t *testing.T) {
	want, pcm := ramp(3000)
	actx := audio.NewFakeContextPCM(pcm, false)
	m := New(actx, Config{}, nil, nil)
	m.Start(context.Background())
	<-actx.LastCapture().AudioDone()
	a, err := m.Stop()
	if err != nil {
		t.Fatal(err)
	}

	p, _ := actx.NewPlayer()
	if err := a.Play(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	played := p.(*audio.FakePlayer).Played()
	if len(played) != 1 || len(played[0]) < len(want) || played[0][10] != want[10] {
		t.Fatalf("played %d buffers", len(played))
	}

	a.Release()
	if err := a.Play(context.Background(), p); !errors.Is(err, ErrReleased) {
		t.Errorf("Play after release = %v", err)
	}
}
