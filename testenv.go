package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxcoach/analysis"
	"voxcoach/audio"
	"voxcoach/config"
	"voxcoach/recognizer"
	"voxcoach/session"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

// lineSink prints session events one per line for the scripted test mode.
type lineSink struct {
	session.NopSink
	mu sync.Mutex
	w  io.Writer
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *lineSink) StateChanged(sess session.Session, cond error) {
	if cond != nil {
		s.printf("STATE %s %v", sess.State, cond)
		return
	}
	s.printf("STATE %s", sess.State)
}

func (s *lineSink) Words(_ string, words []transcript.Word) {
	for _, w := range words {
		s.printf("WORD %s %.2f %v", w.Text, w.Confidence, w.IsCorrect)
	}
}

func (s *lineSink) Warning(_ string, err error) { s.printf("WARNING %v", err) }

func (s *lineSink) Result(_ string, r analysis.Report) {
	overall := r.Result.Overall()
	s.printf("RESULT %d %s wpm=%.0f correct=%d/%d", overall, analysis.GradeOf(float64(overall)),
		r.Metrics.WordsPerMinute, r.Metrics.Correct, r.Metrics.Words)
}

var _ session.EventSink = (*lineSink)(nil)

// testEnv drives one machine from text commands against a WAV file and a
// scripted recognizer instead of a microphone and a network service.
type testEnv struct {
	app  *app
	fake *audio.FakeContext
	out  *lineSink
}

func newTestEnv(cfg config.Config, wavPath, scriptPath string, out io.Writer) (*testEnv, error) {
	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", wavPath, err)
	}
	script := fakeScript()
	if scriptPath != "" {
		data, err := os.ReadFile(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("loading script: %w", err)
		}
		script = recognizer.ParseScript(string(data), 0.9, 200*time.Millisecond)
	}

	sink := &lineSink{w: out}
	m := session.New(session.Deps{
		Audio:      fakeCtx,
		Recognizer: recognizer.NewFake(script...),
		Jitter:     analysis.NoJitter{},
		Sink:       sink,
	}, sessionConfig(cfg, nil))

	player, _ := fakeCtx.NewPlayer()
	cfg.UI.Clipboard = false
	return &testEnv{app: newApp(m, player, cfg), fake: fakeCtx, out: sink}, nil
}

// exec runs one command. It returns false on QUIT.
func (e *testEnv) exec(ctx context.Context, cmd string) bool {
	switch {
	case cmd == "" || strings.HasPrefix(cmd, "#"):
	case cmd == "START":
		if err := e.app.start(ctx); err != nil {
			e.out.printf("ERROR %v", err)
		}
	case cmd == "STOP":
		if _, err := e.app.stop(ctx); err != nil && !errors.Is(err, session.ErrNoSpeechDetected) {
			e.out.printf("ERROR %v", err)
		}
	case cmd == "RESET":
		if err := e.app.reset(ctx); err != nil {
			e.out.printf("ERROR %v", err)
		}
	case cmd == "TICK":
		e.app.machine.Tick()
	case cmd == "NEXT":
		if ex, err := e.app.nextExercise(); err != nil {
			e.out.printf("ERROR %v", err)
		} else {
			e.out.printf("EXERCISE %s", ex.ID)
		}
	case cmd == "SAVE":
		if path, err := e.app.save(); err != nil {
			e.out.printf("ERROR %v", err)
		} else {
			e.out.printf("SAVED %s", path)
		}
	case cmd == "WAIT_AUDIO_DONE":
		if c := e.fake.LastCapture(); c != nil {
			<-c.AudioDone()
		}
	case strings.HasPrefix(cmd, "SLEEP "):
		if ms, err := strconv.Atoi(strings.TrimSpace(cmd[6:])); err == nil {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	case cmd == "QUIT":
		return false
	default:
		e.out.printf("ERROR unknown command %q", cmd)
	}
	return true
}

func (e *testEnv) runScript(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if !e.exec(ctx, strings.TrimSpace(scanner.Text())) {
			break
		}
	}
	if e.app.machine.State().Active() {
		e.app.reset(ctx)
	}
}

func runTestMode(cfg config.Config, wavPath, scriptPath string) {
	// frames are not printed; keep the sampler from spinning at display rate
	cfg.Session.WaveformHz = int(time.Second / waveform.DefaultInterval / 4)

	env, err := newTestEnv(cfg, wavPath, scriptPath, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	env.runScript(context.Background(), os.Stdin)
}
