package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
	fakeSampleRate    = 16000
)

// FakeContext replays PCM from memory instead of a microphone. It backs the
// headless test mode and package tests.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// StartErr, when set, is returned by the next capture's Start.
	StartErr error

	mu      sync.Mutex
	last    *FakeCapture
	players []*FakePlayer
}

// NewFakeContext loads a 16-bit mono WAV file. Files that fail RIFF parsing
// are treated as raw PCM after a canonical 44 byte header.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if dec.IsValidFile() {
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", wavPath, err)
		}
		pcm := make([]byte, len(buf.Data)*2)
		for i, s := range buf.Data {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
		}
		return NewFakeContextPCM(pcm, realtime), nil
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContextPCM(data, realtime), nil
}

func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{}), startErr: f.StartErr}
	f.StartErr = nil
	f.last = c
	return c, nil
}

func (f *FakeContext) NewPlayer() (Player, error) {
	p := &FakePlayer{}
	f.mu.Lock()
	f.players = append(f.players, p)
	f.mu.Unlock()
	return p, nil
}

// LastCapture returns the most recently created capture device.
func (f *FakeContext) LastCapture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	audioDone chan struct{}
	startErr  error

	mu       sync.Mutex
	cb       DataCallback
	onError  ErrorCallback
	stalled  bool
	started  bool
	stopCh   chan struct{}
	feedDone chan struct{}
	stopOnce sync.Once
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetErrorCallback(cb ErrorCallback) {
	f.mu.Lock()
	f.onError = cb
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Fail simulates the device dying mid-recording: data stops and the error
// callback fires.
func (f *FakeCapture) Fail(err error) {
	f.mu.Lock()
	f.stalled = true
	cb := f.onError
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Stall stops data delivery without reporting an error.
func (f *FakeCapture) Stall() {
	f.mu.Lock()
	f.stalled = true
	f.mu.Unlock()
}

func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeCapture) current() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stalled {
		return nil
	}
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Duration(fakeFrameSize) * time.Second / fakeSampleRate
	if !f.realtime {
		interval = time.Millisecond
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		finished := false
		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			if cb := f.current(); cb != nil {
				if pos < len(f.pcm) {
					pos = f.feedChunk(cb, pos, chunkBytes)
				} else {
					if !finished {
						finished = true
						close(f.audioDone)
					}
					cb(silence, fakeFrameSize)
				}
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, done := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	f.stopOnce.Do(func() { close(stopCh) })
	<-done
}

func (f *FakeCapture) Close() { f.Stop() }

// FakePlayer records what it was asked to play.
type FakePlayer struct {
	mu     sync.Mutex
	played [][]int16
}

func (p *FakePlayer) Play(ctx context.Context, samples []int16, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.played = append(p.played, samples)
	p.mu.Unlock()
	return nil
}

func (p *FakePlayer) Played() [][]int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

func (p *FakePlayer) Close() {}
