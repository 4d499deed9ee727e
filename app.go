package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"voxcoach/analysis"
	"voxcoach/audio"
	"voxcoach/capture"
	"voxcoach/clipboard"
	"voxcoach/config"
	"voxcoach/encoder"
	"voxcoach/exercise"
	"voxcoach/log"
	"voxcoach/recognizer"
	"voxcoach/session"
	"voxcoach/transcript"
)

const playbackTimeout = 5 * time.Minute

// app is the command surface shared by the TUI, the global hotkey and the
// scripted test mode.
type app struct {
	machine *session.Machine
	player  audio.Player
	saveDir string
	copy    bool

	mu       sync.Mutex
	exercise exercise.Exercise
	phrase   string
	rnd      *rand.Rand
	stopPlay context.CancelFunc
}

func newApp(m *session.Machine, player audio.Player, cfg config.Config) *app {
	ex, err := exercise.Lookup(cfg.Session.Exercise)
	if err != nil {
		ex = exercise.MustLookup(exercise.Default)
	}
	a := &app{
		machine:  m,
		player:   player,
		saveDir:  cfg.Session.SaveDir,
		copy:     cfg.UI.Clipboard,
		exercise: ex,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	a.phrase = ex.Phrase(a.rnd)
	return a
}

func sessionConfig(cfg config.Config, dev *audio.DeviceInfo) session.Config {
	stall := cfg.Audio.StallTimeout()
	if stall == 0 {
		stall = -1
	}
	return session.Config{
		Capture: capture.Config{
			Device:       dev,
			Format:       cfg.Audio.Format,
			StallTimeout: stall,
		},
		Transcript: transcript.Config{
			Locale:             cfg.Recognizer.Locale,
			Model:              cfg.Recognizer.Model,
			SampleRate:         encoder.SampleRate,
			Channels:           encoder.Channels,
			FallbackConfidence: cfg.Recognizer.FallbackConfidence,
			FinalizeTimeout:    cfg.Recognizer.FinalizeTimeout(),
			DrainTimeout:       cfg.Recognizer.DrainTimeout(),
			BackoffMin:         cfg.Recognizer.BackoffMin(),
			BackoffMax:         cfg.Recognizer.BackoffMax(),
		},
		TickInterval:     cfg.Session.TickInterval(),
		WaveformInterval: cfg.Session.WaveformInterval(),
	}
}

func newJitter(cfg config.SessionConfig) analysis.Jitter {
	switch {
	case cfg.NoJitter:
		return analysis.NoJitter{}
	case cfg.JitterSeed != 0:
		return analysis.NewRandJitter(cfg.JitterSeed)
	}
	return nil
}

// newRecognizer builds the configured source. The fake source speaks the
// phrases of every exercise, which keeps offline runs scorable.
func newRecognizer(cfg config.RecognizerConfig) (recognizer.Source, error) {
	if cfg.Provider == "fake" {
		return recognizer.NewFake(fakeScript()...), nil
	}
	return recognizer.New(cfg.Model)
}

func fakeScript() []recognizer.Utterance {
	var script []recognizer.Utterance
	for _, ex := range exercise.All() {
		script = append(script, recognizer.Utterance{Text: ex.Phrases[0], Confidence: 0.9, After: 400 * time.Millisecond})
	}
	return script
}

func (a *app) current() (exercise.Exercise, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exercise, a.phrase
}

// toggle starts a session when none is active and stops the active one
// otherwise. Stop blocks until scoring is done.
func (a *app) toggle(ctx context.Context) error {
	switch a.machine.State() {
	case session.Recording:
		_, err := a.stop(ctx)
		return err
	case session.Stopping, session.Analyzing:
		return session.ErrAlreadyActive
	}
	return a.start(ctx)
}

func (a *app) start(ctx context.Context) error {
	a.stopPlayback()
	ex, _ := a.current()
	return a.machine.Start(ctx, ex)
}

func (a *app) stop(ctx context.Context) (analysis.Report, error) {
	r, err := a.machine.Stop(ctx)
	if err != nil {
		return r, err
	}
	if a.copy {
		ex, _ := a.current()
		if _, err := clipboard.ShareReport(r, ex.Name); err != nil {
			log.Warnf("share result: %v", err)
		}
	}
	return r, nil
}

func (a *app) reset(ctx context.Context) error {
	a.stopPlayback()
	return a.machine.Reset(ctx)
}

// nextExercise moves to the following exercise. It is refused while a
// session is active.
func (a *app) nextExercise() (exercise.Exercise, error) {
	if a.machine.State().Active() {
		return exercise.Exercise{}, session.ErrAlreadyActive
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exercise = exercise.Next(a.exercise.ID)
	a.phrase = a.exercise.Phrase(a.rnd)
	return a.exercise, nil
}

func (a *app) save() (string, error) {
	art := a.machine.Artifact()
	if art == nil {
		return "", errors.New("no recording to save")
	}
	return art.Save(a.saveDir)
}

// play replays the last recording in the background; done receives the
// outcome.
func (a *app) play(done func(error)) error {
	art := a.machine.Artifact()
	if art == nil {
		return errors.New("no recording to play")
	}
	if a.player == nil {
		return errors.New("playback unavailable")
	}
	ctx, cancel := context.WithTimeout(context.Background(), playbackTimeout)
	a.mu.Lock()
	if a.stopPlay != nil {
		a.stopPlay()
	}
	a.stopPlay = cancel
	a.mu.Unlock()

	go func() {
		defer cancel()
		err := art.Play(ctx, a.player)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if done != nil {
			done(err)
		}
	}()
	return nil
}

func (a *app) stopPlayback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopPlay != nil {
		a.stopPlay()
		a.stopPlay = nil
	}
}

func (a *app) shareText() (string, error) {
	r, ok := a.machine.Report()
	if !ok {
		return "", errors.New("no result to share")
	}
	ex, _ := a.current()
	text, err := clipboard.ShareReport(r, ex.Name)
	if err != nil {
		return "", fmt.Errorf("share result: %w", err)
	}
	return text, nil
}
