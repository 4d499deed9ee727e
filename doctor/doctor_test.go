package doctor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"voxcoach/audio"
)

func sine(seconds float64) []byte {
	n := int(16000 * seconds)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.5 * math.Sin(2*math.Pi*1000*float64(i)/16000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func TestCheckMicHearsAudio(t *testing.T) {
	opts := Options{
		Audio:  audio.NewFakeContextPCM(sine(1), true),
		Listen: 300 * time.Millisecond,
	}
	results := Check(context.Background(), opts)
	if len(results) != 2 {
		t.Fatalf("got %d results, want devices and microphone", len(results))
	}
	if r := results[0]; r.Name != "devices" || r.Err != nil || !strings.Contains(r.Detail, "1 capture") {
		t.Errorf("devices = %+v", r)
	}
	mic := results[1]
	if mic.Err != nil {
		t.Fatalf("microphone check failed: %v", mic.Err)
	}
	if !strings.Contains(mic.Detail, "flac") {
		t.Errorf("detail = %q", mic.Detail)
	}
}

func TestCheckMicSilence(t *testing.T) {
	opts := Options{
		Audio:  audio.NewFakeContextPCM(make([]byte, 32000), true),
		Format: "wav",
		Listen: 200 * time.Millisecond,
	}
	mic := Check(context.Background(), opts)[1]
	if !errors.Is(mic.Err, ErrSilent) || !mic.Warn {
		t.Fatalf("expected silent warning, got %+v", mic)
	}
}

func TestCheckMicStartFailure(t *testing.T) {
	actx := audio.NewFakeContextPCM(nil, false)
	actx.StartErr = errors.New("Permission denied")
	mic := Check(context.Background(), Options{Audio: actx})[1]
	if !errors.Is(mic.Err, audio.ErrPermissionDenied) || mic.Warn {
		t.Fatalf("expected permission failure, got %+v", mic)
	}
}

func TestPrint(t *testing.T) {
	results := []Result{
		{Name: "hotkey", Detail: "ok"},
		{Name: "clipboard", Err: errors.New("no xclip"), Warn: true},
	}
	var buf bytes.Buffer
	if code := Print(&buf, results); code != 0 {
		t.Errorf("warnings should not fail, got %d", code)
	}
	results = append(results, Result{Name: "recognizer", Err: errors.New("no key")})
	buf.Reset()
	if code := Print(&buf, results); code != 1 {
		t.Errorf("expected failure code, got %d", code)
	}
	out := buf.String()
	if !strings.Contains(out, "✓ hotkey") || !strings.Contains(out, "! clipboard") || !strings.Contains(out, "✗ recognizer") {
		t.Errorf("output:\n%s", out)
	}
}

func TestCheckOptionalProbes(t *testing.T) {
	results := Check(context.Background(), Options{
		Hotkey:     func() (string, error) { return "chord ready", nil },
		Recognizer: func() error { return errors.New("no key") },
	})
	if len(results) != 2 || results[0].Name != "hotkey" || results[1].Err == nil {
		t.Fatalf("results = %+v", results)
	}
}
