// Package recognizer adapts streaming speech recognition services to a
// single event-stream contract.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var ErrRecognition = errors.New("recognition error")

// Error codes reported in Event.Code.
const (
	CodeNetwork    = "network"
	CodeNotAllowed = "not-allowed"
	CodeAborted    = "aborted"
	CodeProtocol   = "protocol"
	CodeNoSpeech   = "no-speech"
)

type Options struct {
	Continuous bool
	Interim    bool
	Locale     string
	SampleRate int
	Channels   int
	Model      string
}

// Segment is one finalized piece of recognized text. Confidence is in [0,1];
// zero means the service did not report one.
type Segment struct {
	Text       string
	Confidence float64
}

type Kind int

const (
	Partial Kind = iota
	Final
	Error
	End
)

func (k Kind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	case Error:
		return "error"
	case End:
		return "end"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Event struct {
	Kind     Kind
	Text     string    // Partial
	Segments []Segment // Final
	Code     string    // Error
	Err      error     // Error, wraps ErrRecognition
}

func errorEvent(code string, err error) Event {
	return Event{Kind: Error, Code: code, Err: fmt.Errorf("%w: %s: %v", ErrRecognition, code, err)}
}

type Source interface {
	Name() string
	// Open starts a stream. Connection happens in the background; failures
	// surface as an Error event followed by End.
	Open(ctx context.Context, opts Options) (Stream, error)
}

type Stream interface {
	Feed(pcm []byte)
	// Events delivers events in order and is closed right after End.
	Events() <-chan Event
	// Stop asks the service to finalize pending audio and end the stream.
	// Termination is confirmed by the Events channel closing.
	Stop() error
	// Abort drops the connection without waiting for pending results.
	Abort()
}

// New picks a source from the environment.
func New(model string) (Source, error) {
	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		return NewDeepgram(key, model), nil
	}
	return nil, fmt.Errorf("set DEEPGRAM_API_KEY or run with -test")
}
