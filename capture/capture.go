package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voxcoach/audio"
	"voxcoach/encoder"
	"voxcoach/log"
)

const DefaultStallTimeout = 3 * time.Second

var (
	ErrStalled        = errors.New("capture device stopped delivering audio")
	ErrAlreadyStarted = errors.New("capture already started")
)

type Config struct {
	Device *audio.DeviceInfo
	Format string
	// StallTimeout is how long the device may go without delivering data
	// before the capture is considered failed. Negative disables the check.
	StallTimeout time.Duration
	// OnChunk, if set, sees every encoded chunk that joins the recording,
	// in order.
	OnChunk func([]byte)
}

// Handle describes a running capture.
type Handle struct {
	Tap        *Tap
	DeviceName string
	Bluetooth  bool
	MimeType   string
}

// Manager owns one recording: the device, the analysis tap and the encoder
// whose output is collected into an Artifact.
type Manager struct {
	actx      audio.Context
	cfg       Config
	onPCM     func(pcm []byte)
	onFailure func(err error)

	mu        sync.Mutex
	started   bool
	stopping  bool
	dev       audio.CaptureDevice
	enc       encoder.Encoder
	tap       *Tap
	sampleBuf []int16
	blockCh   chan []int16
	encDone   chan struct{}
	watchStop chan struct{}
	watchDone chan struct{}

	chunkMu sync.Mutex
	chunks  [][]byte
	size    int
	sealed  bool

	lastData atomic.Int64
	failOnce sync.Once

	stopDone chan struct{}
	artifact *Artifact
	stopErr  error
}

// New prepares a manager. onPCM receives a copy of every captured buffer;
// onFailure is called at most once, from its own goroutine, when the device
// errors or stalls after Start succeeded.
func New(actx audio.Context, cfg Config, onPCM func([]byte), onFailure func(error)) *Manager {
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	return &Manager{
		actx:      actx,
		cfg:       cfg,
		onPCM:     onPCM,
		onFailure: onFailure,
		stopDone:  make(chan struct{}),
	}
}

func (m *Manager) Start(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil, ErrAlreadyStarted
	}
	m.started = true

	enc, err := encoder.New(m.cfg.Format, m.PushChunk)
	if err != nil {
		m.abandon()
		return nil, err
	}

	dev, err := m.actx.NewCapture(m.cfg.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		enc.Close()
		m.abandon()
		return nil, fmt.Errorf("opening capture device: %w", audio.Classify(err))
	}

	m.dev = dev
	m.enc = enc
	m.tap = NewTap()
	m.blockCh = make(chan []int16, 64)
	m.encDone = make(chan struct{})
	go m.encodeLoop(m.blockCh, m.encDone)

	dev.SetCallback(m.onData)
	dev.SetErrorCallback(func(err error) { m.fail(audio.Classify(err)) })
	m.lastData.Store(time.Now().UnixNano())

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		close(m.blockCh)
		<-m.encDone
		enc.Close()
		m.tap.Close()
		m.abandon()
		return nil, fmt.Errorf("starting capture: %w", audio.Classify(err))
	}

	if m.cfg.StallTimeout > 0 {
		m.watchStop = make(chan struct{})
		m.watchDone = make(chan struct{})
		go m.watchdog(m.watchStop, m.watchDone)
	}

	name := dev.DeviceName()
	return &Handle{
		Tap:        m.tap,
		DeviceName: name,
		Bluetooth:  audio.IsBluetooth(name),
		MimeType:   enc.MimeType(),
	}, nil
}

// abandon marks a failed start as fully stopped so Stop returns nil, nil.
// Called with mu held.
func (m *Manager) abandon() {
	m.stopping = true
	m.chunkMu.Lock()
	m.sealed = true
	m.chunkMu.Unlock()
	close(m.stopDone)
}

func (m *Manager) encodeLoop(blocks <-chan []int16, done chan<- struct{}) {
	defer close(done)
	for block := range blocks {
		t0 := time.Now()
		if err := m.enc.EncodeBlock(block); err != nil {
			log.Warnf("encode block: %v", err)
		}
		m.enc.AddEncodeTime(time.Since(t0))
	}
}

func (m *Manager) onData(data []byte, _ uint32) {
	m.lastData.Store(time.Now().UnixNano())

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return
	}
	m.tap.Write(data)
	for i := 0; i+1 < len(data); i += 2 {
		m.sampleBuf = append(m.sampleBuf, int16(uint16(data[i])|uint16(data[i+1])<<8))
		if len(m.sampleBuf) == encoder.BlockSize {
			m.blockCh <- m.sampleBuf
			m.sampleBuf = make([]int16, 0, encoder.BlockSize)
		}
	}
	m.mu.Unlock()

	if m.onPCM != nil {
		pcm := make([]byte, len(data))
		copy(pcm, data)
		m.onPCM(pcm)
	}
}

func (m *Manager) watchdog(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	period := max(m.cfg.StallTimeout/4, 10*time.Millisecond)
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			last := time.Unix(0, m.lastData.Load())
			if now.Sub(last) >= m.cfg.StallTimeout {
				m.fail(fmt.Errorf("%w: no data for %v", ErrStalled, now.Sub(last).Round(time.Millisecond)))
				return
			}
		}
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	stopping := m.stopping
	m.mu.Unlock()
	if stopping {
		return
	}
	m.failOnce.Do(func() {
		log.Errorf("capture failed: %v", err)
		if m.onFailure != nil {
			go m.onFailure(err)
		}
	})
}

// PushChunk appends one encoded chunk. Chunks arriving after the recording
// is sealed are dropped.
func (m *Manager) PushChunk(b []byte) {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()
	if m.sealed {
		return
	}
	m.chunks = append(m.chunks, b)
	m.size += len(b)
	if m.cfg.OnChunk != nil {
		m.cfg.OnChunk(b)
	}
}

// Stop releases the device, flushes the encoder and returns the recording.
// It is idempotent. A manager that never started, or whose Start failed,
// returns nil, nil.
func (m *Manager) Stop() (*Artifact, error) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil, nil
	}
	if m.stopping {
		m.mu.Unlock()
		<-m.stopDone
		return m.artifact, m.stopErr
	}
	m.stopping = true
	dev := m.dev
	m.mu.Unlock()

	defer close(m.stopDone)

	dev.ClearCallback()
	dev.Stop()
	dev.Close()

	if m.watchStop != nil {
		close(m.watchStop)
		<-m.watchDone
	}

	m.mu.Lock()
	if len(m.sampleBuf) > 0 {
		m.blockCh <- m.sampleBuf
		m.sampleBuf = nil
	}
	close(m.blockCh)
	m.mu.Unlock()
	<-m.encDone

	if err := m.enc.Close(); err != nil {
		m.stopErr = fmt.Errorf("flushing encoder: %w", err)
	}
	m.tap.Close()

	m.chunkMu.Lock()
	m.sealed = true
	data := make([]byte, 0, m.size)
	for _, c := range m.chunks {
		data = append(data, c...)
	}
	m.chunks = nil
	m.chunkMu.Unlock()

	log.Infof("capture stopped: %d frames, encode time %v", m.enc.TotalFrames(), m.enc.EncodeTime())
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	m.artifact = &Artifact{
		Bytes:      data,
		MimeType:   m.enc.MimeType(),
		Ext:        m.enc.Ext(),
		CreatedAt:  time.Now(),
		SampleRate: encoder.SampleRate,
		Frames:     m.enc.TotalFrames(),
	}
	return m.artifact, nil
}
