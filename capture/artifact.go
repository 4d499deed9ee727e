package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"

	"voxcoach/audio"
)

var ErrReleased = errors.New("recording released")

// Artifact is the encoded recording of one session.
type Artifact struct {
	Bytes      []byte
	MimeType   string
	Ext        string
	CreatedAt  time.Time
	SampleRate int
	Frames     uint64

	mu         sync.Mutex
	released   bool
	cancelPlay context.CancelFunc
}

// FileName is speech-recording-<UTC timestamp to the second>.<ext>.
func (a *Artifact) FileName() string {
	return fmt.Sprintf("speech-recording-%s.%s", a.CreatedAt.UTC().Format("2006-01-02T15:04:05"), a.Ext)
}

func (a *Artifact) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(a.Frames) * time.Second / time.Duration(a.SampleRate)
}

// Save writes the artifact into dir and returns the full path.
func (a *Artifact) Save(dir string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return "", ErrReleased
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	name := a.FileName()
	if runtime.GOOS == "windows" {
		name = strings.ReplaceAll(name, ":", "-")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, a.Bytes, 0644); err != nil {
		return "", fmt.Errorf("writing recording: %w", err)
	}
	return path, nil
}

// PCM decodes the artifact back to 16-bit samples.
func (a *Artifact) PCM() ([]int16, error) {
	a.mu.Lock()
	data, ext, released := a.Bytes, a.Ext, a.released
	a.mu.Unlock()
	if released {
		return nil, ErrReleased
	}

	switch ext {
	case "flac":
		stream, err := flac.New(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parsing flac: %w", err)
		}
		var out []int16
		for {
			f, err := stream.ParseNext()
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if err != nil {
				return nil, fmt.Errorf("decoding flac frame: %w", err)
			}
			for _, s := range f.Subframes[0].Samples {
				out = append(out, int16(s))
			}
		}
	case "wav":
		dec := wav.NewDecoder(bytes.NewReader(data))
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			return nil, fmt.Errorf("decoding wav: %w", err)
		}
		out := make([]int16, len(buf.Data))
		for i, s := range buf.Data {
			out[i] = int16(s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot decode %q recordings", ext)
	}
}

// Play decodes and plays the recording, blocking until done. A Play already
// in progress is cancelled first.
func (a *Artifact) Play(ctx context.Context, p audio.Player) error {
	samples, err := a.PCM()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return ErrReleased
	}
	if a.cancelPlay != nil {
		a.cancelPlay()
	}
	a.cancelPlay = cancel
	a.mu.Unlock()

	return p.Play(ctx, samples, a.SampleRate)
}

// Release stops playback and drops the encoded bytes.
func (a *Artifact) Release() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelPlay != nil {
		a.cancelPlay()
		a.cancelPlay = nil
	}
	a.released = true
	a.Bytes = nil
}

func (a *Artifact) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}
