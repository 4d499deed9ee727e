package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"voxcoach/log"
	"voxcoach/recognizer"
)

const (
	DefaultFallbackConfidence = 0.8
	DefaultFinalizeTimeout    = 3 * time.Second
	DefaultDrainTimeout       = 2 * time.Second
	DefaultBackoffMin         = 250 * time.Millisecond
	DefaultBackoffMax         = 4 * time.Second
)

var ErrTeardownTimeout = errors.New("recognizer did not confirm termination")

type Config struct {
	Locale     string
	Model      string
	SampleRate int
	Channels   int

	// FallbackConfidence tags words whose source reported no confidence.
	FallbackConfidence float64
	// FinalizeTimeout bounds how long Stop waits for the source to end the
	// stream on its own before aborting it.
	FinalizeTimeout time.Duration
	// DrainTimeout bounds the wait after an abort.
	DrainTimeout time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

func (c *Config) defaults() {
	if c.FallbackConfidence <= 0 || c.FallbackConfidence > 1 {
		c.FallbackConfidence = DefaultFallbackConfidence
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = DefaultBackoffMin
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = max(DefaultBackoffMax, c.BackoffMin)
	}
}

// Handlers are invoked from the consumer's goroutine, in event order.
type Handlers struct {
	OnPartial func(text string)
	OnWords   func(words []Word)
	OnWarning func(err error)
}

// Consumer folds a recognizer's event stream into a Ledger. It keeps the
// stream alive across service errors by reopening it until stopped.
type Consumer struct {
	src    recognizer.Source
	ledger *Ledger
	cfg    Config
	h      Handlers

	mu       sync.Mutex
	started  bool
	stopping bool
	stream   recognizer.Stream
	partial  string
	t0       time.Time
	stopCh   chan struct{}
	done     chan struct{}
	stopDone chan struct{}
	stopErr  error
}

func NewConsumer(src recognizer.Source, ledger *Ledger, cfg Config, h Handlers) *Consumer {
	cfg.defaults()
	return &Consumer{
		src:      src,
		ledger:   ledger,
		cfg:      cfg,
		h:        h,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
}

func (c *Consumer) options() recognizer.Options {
	return recognizer.Options{
		Continuous: true,
		Interim:    true,
		Locale:     c.cfg.Locale,
		SampleRate: c.cfg.SampleRate,
		Channels:   c.cfg.Channels,
		Model:      c.cfg.Model,
	}
}

// Start opens the first stream synchronously so configuration errors surface
// to the caller, then supervises it in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("consumer already started")
	}
	c.started = true
	c.t0 = time.Now()
	c.mu.Unlock()

	stream, err := c.src.Open(ctx, c.options())
	if err != nil {
		close(c.done)
		return fmt.Errorf("%w: open %s: %v", recognizer.ErrRecognition, c.src.Name(), err)
	}
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	go c.run(ctx, stream)
	return nil
}

func (c *Consumer) run(ctx context.Context, stream recognizer.Stream) {
	defer close(c.done)
	attempt := 0
	for {
		gotFinal := c.consume(stream)

		c.mu.Lock()
		c.stream = nil
		stopping := c.stopping
		c.mu.Unlock()
		if stopping || ctx.Err() != nil {
			return
		}

		if gotFinal {
			attempt = 0
		}
		attempt++
		delay := c.backoff(attempt)
		log.Reconnect(attempt, delay, nil)
		select {
		case <-time.After(delay):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}

		next, err := c.src.Open(ctx, c.options())
		if err != nil {
			c.warn(fmt.Errorf("%w: reopen %s: %v", recognizer.ErrRecognition, c.src.Name(), err))
			stream = closedStream{}
			continue
		}
		c.mu.Lock()
		if c.stopping {
			c.mu.Unlock()
			next.Abort()
			drain(next, c.cfg.DrainTimeout)
			return
		}
		c.stream = next
		c.mu.Unlock()
		stream = next
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffMin
	for i := 1; i < attempt && d < c.cfg.BackoffMax; i++ {
		d *= 2
	}
	return min(d, c.cfg.BackoffMax)
}

// consume reads until the stream's event channel closes and reports whether
// any final result arrived.
func (c *Consumer) consume(stream recognizer.Stream) bool {
	gotFinal := false
	for ev := range stream.Events() {
		switch ev.Kind {
		case recognizer.Partial:
			c.onPartial(ev.Text)
		case recognizer.Final:
			gotFinal = true
			c.onFinal(ev.Segments)
		case recognizer.Error:
			c.onError(ev)
		case recognizer.End:
		}
	}
	return gotFinal
}

func (c *Consumer) onPartial(text string) {
	c.mu.Lock()
	c.partial = text
	c.mu.Unlock()
	if c.h.OnPartial != nil {
		c.h.OnPartial(text)
	}
}

func (c *Consumer) onFinal(segments []recognizer.Segment) {
	c.mu.Lock()
	ts := uint64(time.Since(c.t0).Milliseconds())
	c.partial = ""
	c.mu.Unlock()

	var words []Word
	for _, seg := range segments {
		conf := seg.Confidence
		if conf <= 0 {
			conf = c.cfg.FallbackConfidence
		}
		for _, w := range strings.Fields(seg.Text) {
			words = append(words, NewWord(w, conf, ts))
		}
		log.Transcript(seg.Text)
	}
	if len(words) == 0 {
		return
	}
	if !c.ledger.Append(words...) {
		return
	}
	if c.h.OnPartial != nil {
		c.h.OnPartial("")
	}
	if c.h.OnWords != nil {
		c.h.OnWords(words)
	}
}

func (c *Consumer) onError(ev recognizer.Event) {
	err := ev.Err
	if err == nil {
		err = fmt.Errorf("%w: %s", recognizer.ErrRecognition, ev.Code)
	}
	c.warn(err)
}

func (c *Consumer) warn(err error) {
	log.Warnf("recognizer: %v", err)
	if c.h.OnWarning != nil {
		c.h.OnWarning(err)
	}
}

func (c *Consumer) Feed(pcm []byte) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Feed(pcm)
	}
}

func (c *Consumer) Partial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial
}

// Stop ends recognition and returns once the source has confirmed the stream
// is over, aborting it if it does not finish within FinalizeTimeout. It is
// safe to call more than once and before Start.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	if c.stopping {
		c.mu.Unlock()
		<-c.stopDone
		return c.stopErr
	}
	c.stopping = true
	close(c.stopCh)
	stream := c.stream
	c.mu.Unlock()

	defer close(c.stopDone)

	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Warnf("recognizer stop: %v", err)
		}
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(c.cfg.FinalizeTimeout):
	}

	log.Warn("recognizer did not end in time, aborting")
	c.mu.Lock()
	stream = c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Abort()
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(c.cfg.DrainTimeout):
		c.stopErr = ErrTeardownTimeout
		return c.stopErr
	}
}

func drain(s recognizer.Stream, timeout time.Duration) {
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			return
		}
	}
}

// closedStream stands in when reopening failed, so the supervisor loop backs
// off and retries.
type closedStream struct{}

var closedEvents = func() chan recognizer.Event {
	ch := make(chan recognizer.Event)
	close(ch)
	return ch
}()

func (closedStream) Feed([]byte)                     {}
func (closedStream) Events() <-chan recognizer.Event { return closedEvents }
func (closedStream) Stop() error                     { return nil }
func (closedStream) Abort()                          {}
