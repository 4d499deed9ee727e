// Package session runs one practice session at a time: it starts and tears
// down the capture, recognition and display producers together and scores
// the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"voxcoach/analysis"
	"voxcoach/audio"
	"voxcoach/capture"
	"voxcoach/clock"
	"voxcoach/exercise"
	"voxcoach/log"
	"voxcoach/recognizer"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

type State int

const (
	Idle State = iota
	Recording
	Stopping
	Analyzing
	Reviewing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Analyzing:
		return "analyzing"
	case Reviewing:
		return "reviewing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a session occupies the machine.
func (s State) Active() bool {
	return s == Recording || s == Stopping || s == Analyzing
}

var (
	ErrCaptureFailed    = errors.New("audio capture failed")
	ErrNoSpeechDetected = errors.New("no speech detected")
	ErrAlreadyActive    = errors.New("session already active")
	ErrNotActive        = errors.New("no active session")
	ErrReset            = errors.New("session was reset")
)

type Session struct {
	ID             string
	State          State
	StartedAt      time.Time
	ElapsedSeconds uint32
	Exercise       exercise.ID
}

type Deps struct {
	Audio      audio.Context
	Recognizer recognizer.Source
	// Jitter defaults to a time-seeded analysis.RandJitter.
	Jitter analysis.Jitter
	Sink   EventSink
}

type Config struct {
	Capture    capture.Config
	Transcript transcript.Config
	// TickInterval drives ElapsedSeconds. Zero leaves the clock off and
	// Tick must be called by the owner.
	TickInterval     time.Duration
	WaveformInterval time.Duration
}

// run holds the producers of one Start. Callbacks carry the run id so
// events from a torn down run are dropped.
type run struct {
	id     uint64
	cap    *capture.Manager
	cons   *transcript.Consumer
	samp   *waveform.Sampler
	ticker *clock.Ticker
	ledger *transcript.Ledger

	once     sync.Once
	torn     chan struct{}
	artifact *capture.Artifact

	// outcome of Stop, valid once the pending channel closes
	report *analysis.Report
	err    error
}

// teardown stops every producer concurrently and returns a channel closed
// once all of them have confirmed. The ledger is frozen behind the barrier.
func (r *run) teardown() <-chan struct{} {
	r.once.Do(func() {
		go func() {
			defer close(r.torn)
			r.ticker.Stop()

			var wg sync.WaitGroup
			wg.Add(3)
			go func() {
				defer wg.Done()
				a, err := r.cap.Stop()
				if err != nil {
					log.Warnf("capture teardown: %v", err)
				}
				r.artifact = a
			}()
			go func() {
				defer wg.Done()
				if err := r.cons.Stop(); err != nil {
					log.Warnf("recognizer teardown: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				r.samp.Stop()
			}()
			wg.Wait()
			r.ledger.Freeze()
		}()
	})
	return r.torn
}

// Machine owns the current Session and its producers.
type Machine struct {
	deps Deps
	cfg  Config

	mu        sync.Mutex
	sess      Session
	seq       uint64
	run       *run
	pending   chan struct{}
	resetting chan struct{}

	// set while Start is bringing producers up; a device failure or a
	// Reset in that window is applied once they are all running
	starting   bool
	startFail  error
	startReset chan struct{}

	frame    waveform.Frame
	level    float64
	levelSum float64
	levelN   int
	partial  string
	device   string
	bt       bool
	report   *analysis.Report
	artifact *capture.Artifact
	cond     error
}

func New(deps Deps, cfg Config) *Machine {
	if deps.Jitter == nil {
		deps.Jitter = analysis.NewRandJitter(uint64(time.Now().UnixNano()))
	}
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	return &Machine{deps: deps, cfg: cfg}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.State
}

func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

func (m *Machine) Artifact() *capture.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artifact
}

func (m *Machine) Report() (analysis.Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.report == nil {
		return analysis.Report{}, false
	}
	return *m.report, true
}

type Snapshot struct {
	Session    Session
	Frame      waveform.Frame
	Level      float64
	Partial    string
	Words      []transcript.Word
	Report     *analysis.Report
	Artifact   *capture.Artifact
	Cond       error
	DeviceName string
	Bluetooth  bool
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Session:    m.sess,
		Frame:      m.frame,
		Level:      m.level,
		Partial:    m.partial,
		Artifact:   m.artifact,
		Cond:       m.cond,
		DeviceName: m.device,
		Bluetooth:  m.bt,
	}
	if m.run != nil {
		s.Words = m.run.ledger.Words()
	}
	if m.report != nil {
		r := *m.report
		s.Report = &r
	}
	return s
}

// Start begins a new session for ex. A previous result and recording are
// discarded.
func (m *Machine) Start(ctx context.Context, ex exercise.Exercise) error {
	m.mu.Lock()
	if m.sess.State.Active() || m.starting || m.resetting != nil {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.starting = true
	m.seq++
	id := m.seq
	prev := m.artifact
	m.artifact = nil
	m.report = nil
	m.run = nil
	m.cond = nil
	m.partial = ""
	m.frame = waveform.Frame{}
	m.level, m.levelSum, m.levelN = 0, 0, 0
	m.sess = Session{
		ID:       ulid.Make().String(),
		State:    Idle,
		Exercise: ex.ID,
	}
	sid := m.sess.ID
	m.mu.Unlock()

	prev.Release()

	r := &run{id: id, ledger: transcript.NewLedger(), torn: make(chan struct{})}
	r.cons = transcript.NewConsumer(m.deps.Recognizer, r.ledger, m.cfg.Transcript, transcript.Handlers{
		OnPartial: func(text string) { m.onPartial(id, text) },
		OnWords:   func(words []transcript.Word) { m.onWords(id, words) },
		OnWarning: func(err error) { m.onWarning(id, err) },
	})
	r.cap = capture.New(m.deps.Audio, m.cfg.Capture, r.cons.Feed, func(err error) { m.onCaptureFailure(id, err) })

	h, err := r.cap.Start(ctx)
	if err != nil {
		return m.startFailed(sid, err)
	}
	if err := r.cons.Start(ctx); err != nil {
		a, stopErr := r.cap.Stop()
		if stopErr != nil {
			log.Warnf("capture teardown: %v", stopErr)
		}
		a.Release()
		return m.startFailed(sid, err)
	}
	r.samp = waveform.NewSampler(h.Tap, m.cfg.WaveformInterval, func(f waveform.Frame, level float64) { m.onFrame(id, f, level) })
	r.samp.Start()
	r.ticker = clock.Start(m.cfg.TickInterval, m.Tick)

	m.mu.Lock()
	if m.startFail != nil || m.startReset != nil {
		return m.cancelStart(r)
	}
	m.starting = false
	m.run = r
	m.device = h.DeviceName
	m.bt = h.Bluetooth
	m.sess.State = Recording
	m.sess.StartedAt = time.Now()
	sess := m.sess
	m.mu.Unlock()

	log.SessionStart(sess.ID, string(ex.ID), m.deps.Recognizer.Name(), h.MimeType)
	if h.Bluetooth {
		log.Warnf("bluetooth microphone %q may record in narrowband", h.DeviceName)
	}
	m.deps.Sink.StateChanged(sess, nil)
	return nil
}

// cancelStart tears down a run whose start was overtaken by a device failure
// or a Reset. Called with mu held; releases it.
func (m *Machine) cancelStart(r *run) error {
	var cond error
	if m.startFail != nil {
		cond = fmt.Errorf("%w: %w", ErrCaptureFailed, m.startFail)
	}
	waiting := m.startReset
	m.starting = false
	m.startFail = nil
	m.startReset = nil
	m.run = r
	done := m.abort(r, cond)
	m.mu.Unlock()

	<-done
	if waiting != nil {
		close(waiting)
	}
	if cond != nil {
		return cond
	}
	return ErrReset
}

func (m *Machine) startFailed(sid string, err error) error {
	m.mu.Lock()
	m.starting = false
	m.startFail = nil
	m.cond = err
	sess := m.sess
	if m.startReset != nil {
		close(m.startReset)
		m.startReset = nil
	}
	m.mu.Unlock()
	log.Errorf("session %s failed to start: %v", sid, err)
	m.deps.Sink.StateChanged(sess, err)
	return err
}

// Tick advances the elapsed time by one second while recording.
func (m *Machine) Tick() {
	m.mu.Lock()
	if m.sess.State != Recording || m.resetting != nil {
		m.mu.Unlock()
		return
	}
	m.sess.ElapsedSeconds++
	id, elapsed := m.sess.ID, m.sess.ElapsedSeconds
	m.mu.Unlock()
	m.deps.Sink.Tick(id, elapsed)
}

// current reports whether run id is still the live one. Called with mu held.
func (m *Machine) current(id uint64) bool {
	return m.run != nil && m.run.id == id && m.resetting == nil
}

func (m *Machine) onFrame(id uint64, f waveform.Frame, level float64) {
	m.mu.Lock()
	if !m.current(id) || m.sess.State != Recording {
		m.mu.Unlock()
		return
	}
	m.frame = f
	m.level = level
	m.levelSum += level
	m.levelN++
	sid := m.sess.ID
	m.mu.Unlock()
	m.deps.Sink.Waveform(sid, f, level)
}

func (m *Machine) onPartial(id uint64, text string) {
	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		return
	}
	m.partial = text
	sid := m.sess.ID
	m.mu.Unlock()
	m.deps.Sink.Partial(sid, text)
}

func (m *Machine) onWords(id uint64, words []transcript.Word) {
	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		return
	}
	sid := m.sess.ID
	m.mu.Unlock()
	m.deps.Sink.Words(sid, words)
}

func (m *Machine) onWarning(id uint64, err error) {
	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		return
	}
	sid := m.sess.ID
	m.mu.Unlock()
	m.deps.Sink.Warning(sid, err)
}

func (m *Machine) onCaptureFailure(id uint64, err error) {
	m.mu.Lock()
	if m.starting && m.seq == id {
		if m.startFail == nil {
			m.startFail = err
		}
		m.mu.Unlock()
		return
	}
	if !m.current(id) || m.sess.State != Recording {
		m.mu.Unlock()
		return
	}
	done := m.abort(m.run, fmt.Errorf("%w: %w", ErrCaptureFailed, err))
	m.mu.Unlock()
	<-done
}

// Stop ends recording, waits for every producer to confirm, and scores the
// transcript. Called while a stop is already in flight it waits for that
// one; after a completed session it returns the stored report.
func (m *Machine) Stop(ctx context.Context) (analysis.Report, error) {
	m.mu.Lock()
	if m.resetting != nil {
		done := m.resetting
		m.mu.Unlock()
		if err := waitOr(ctx, done, nil); err != nil {
			return analysis.Report{}, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.cond != nil {
			return analysis.Report{}, m.cond
		}
		return analysis.Report{}, ErrReset
	}

	var began *Session
	switch m.sess.State {
	case Idle:
		m.mu.Unlock()
		return analysis.Report{}, ErrNotActive
	case Reviewing:
		rep := *m.report
		m.mu.Unlock()
		return rep, nil
	case Recording:
		m.sess.State = Stopping
		m.pending = make(chan struct{})
		sess := m.sess
		began = &sess
		go m.complete(m.run, m.pending)
	}
	r, pending := m.run, m.pending
	m.mu.Unlock()

	if began != nil {
		m.deps.Sink.StateChanged(*began, nil)
	}

	select {
	case <-pending:
	case <-ctx.Done():
		return analysis.Report{}, ctx.Err()
	}
	if r.err != nil {
		return analysis.Report{}, r.err
	}
	return *r.report, nil
}

func waitOr(ctx context.Context, done <-chan struct{}, err error) error {
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete waits for the barrier and scores r unless a reset took over.
func (m *Machine) complete(r *run, pending chan struct{}) {
	defer close(pending)
	<-r.teardown()

	m.mu.Lock()
	if m.run != r || m.resetting != nil {
		m.mu.Unlock()
		r.err = ErrReset
		return
	}
	m.partial = ""
	m.artifact = r.artifact
	words := r.ledger.Words()

	if len(words) == 0 {
		m.sess.State = Idle
		m.cond = ErrNoSpeechDetected
		m.run = nil
		sess := m.sess
		m.mu.Unlock()
		r.err = ErrNoSpeechDetected
		log.SessionEnd(sess.ID, "no_speech", 0, sess.ElapsedSeconds)
		m.deps.Sink.StateChanged(sess, ErrNoSpeechDetected)
		return
	}

	m.sess.State = Analyzing
	analyzing := m.sess
	m.mu.Unlock()
	m.deps.Sink.StateChanged(analyzing, nil)

	metrics, result := analysis.Score(words, analyzing.ElapsedSeconds, m.deps.Jitter)

	m.mu.Lock()
	if m.run != r || m.resetting != nil {
		m.mu.Unlock()
		r.err = ErrReset
		return
	}
	rep := analysis.Report{Metrics: metrics, Result: result}
	if m.levelN > 0 {
		rep.MeanAudioLevel = m.levelSum / float64(m.levelN)
	}
	m.report = &rep
	m.sess.State = Reviewing
	sess := m.sess
	m.mu.Unlock()

	r.report = &rep
	log.Score(sess.ID, log.ScoreData{
		Clarity:        result.Clarity,
		Pace:           result.Pace,
		Volume:         result.Volume,
		Confidence:     result.Confidence,
		Pronunciation:  result.Pronunciation,
		Overall:        result.Overall(),
		WordsPerMinute: metrics.WordsPerMinute,
		MeanAudioLevel: rep.MeanAudioLevel,
	})
	log.SessionEnd(sess.ID, "scored", metrics.Words, sess.ElapsedSeconds)
	m.deps.Sink.Result(sess.ID, rep)
	m.deps.Sink.StateChanged(sess, nil)
}

// Reset tears down whatever is running, discards any result and recording,
// and returns the machine to Idle.
func (m *Machine) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.resetting != nil {
		done := m.resetting
		m.mu.Unlock()
		return waitOr(ctx, done, nil)
	}
	if m.starting {
		if m.startReset == nil {
			m.startReset = make(chan struct{})
		}
		done := m.startReset
		m.mu.Unlock()
		return waitOr(ctx, done, nil)
	}
	if m.run == nil {
		prev := m.artifact
		m.artifact = nil
		m.report = nil
		m.cond = nil
		m.partial = ""
		changed := m.sess.State != Idle
		m.sess.State = Idle
		sess := m.sess
		m.mu.Unlock()
		prev.Release()
		if changed {
			m.deps.Sink.StateChanged(sess, nil)
		}
		return nil
	}
	done := m.abort(m.run, nil)
	m.mu.Unlock()
	return waitOr(ctx, done, nil)
}

// abort tears r down and lands in Idle with cond once the barrier closes.
// Called with mu held.
func (m *Machine) abort(r *run, cond error) <-chan struct{} {
	done := make(chan struct{})
	m.resetting = done
	go func() {
		defer close(done)
		<-r.teardown()

		m.mu.Lock()
		prev := m.artifact
		m.artifact = nil
		m.report = nil
		m.run = nil
		m.partial = ""
		m.resetting = nil
		m.cond = cond
		m.sess.State = Idle
		sess := m.sess
		m.mu.Unlock()

		r.artifact.Release()
		prev.Release()
		outcome := "reset"
		if cond != nil {
			outcome = "capture_failed"
			log.Errorf("session %s aborted: %v", sess.ID, cond)
		}
		log.SessionEnd(sess.ID, outcome, r.ledger.Len(), sess.ElapsedSeconds)
		m.deps.Sink.StateChanged(sess, cond)
	}()
	return done
}
