package recognizer

import (
	"errors"
	"strings"
	"sync"
	"time"

	"voxcoach/encoder"
	"voxcoach/log"
)

const (
	streamChunkMs      = 100
	streamChunkBytes   = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1500 * time.Millisecond
	eventBuffer        = 64
)

// rawStream is one live connection to a streaming service.
type rawStream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Transcript   string
	Confidence   float64
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
	Ignore       bool // metadata and other non-result messages
}

var (
	errNotAllowed = errors.New("not allowed")
	errProtocol   = errors.New("unexpected message")
)

// streamSession turns a rawStream into a Stream: it chunks fed PCM, runs the
// send and receive loops, and converts service updates into Events.
type streamSession struct {
	opts    Options
	audioCh chan []byte
	events  chan Event

	connected chan struct{} // closed once dial finished, either way
	sendDone  chan struct{}
	recvDone  chan struct{}
	finalized chan struct{}
	aborted   chan struct{}

	finalizedOnce sync.Once
	abortOnce     sync.Once
	stopOnce      sync.Once

	feedMu   sync.Mutex
	feedBuf  []byte
	feedShut bool

	mu          sync.Mutex
	ws          rawStream
	closing     bool
	lastPartial string
}

func newStreamSession(opts Options, dial func() (rawStream, error)) *streamSession {
	s := &streamSession{
		opts:      opts,
		audioCh:   make(chan []byte, 128),
		events:    make(chan Event, eventBuffer),
		connected: make(chan struct{}),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
		aborted:   make(chan struct{}),
	}

	go func() {
		ws, err := dial()
		if err != nil {
			close(s.connected)
			close(s.sendDone)
			go s.drainAudio()
			s.emit(errorEvent(codeFor(err), err))
			s.emit(Event{Kind: End})
			close(s.events)
			close(s.recvDone)
			return
		}

		s.mu.Lock()
		s.ws = ws
		s.mu.Unlock()
		close(s.connected)

		select {
		case <-s.aborted:
			ws.Close()
		default:
		}
		go s.runSender()
		go s.runReceiver()
	}()

	return s
}

func (s *streamSession) Events() <-chan Event { return s.events }

func (s *streamSession) Feed(pcm []byte) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedShut {
		return
	}
	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		case <-s.aborted:
			return
		}
	}
}

// shutFeed flushes the buffered tail and closes the audio channel. Feed is a
// no-op afterwards.
func (s *streamSession) shutFeed(flush bool) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedShut {
		return
	}
	s.feedShut = true
	if flush && len(s.feedBuf) > 0 {
		tail := make([]byte, len(s.feedBuf))
		copy(tail, s.feedBuf)
		select {
		case s.audioCh <- tail:
		case <-s.aborted:
		}
	}
	s.feedBuf = nil
	close(s.audioCh)
}

func (s *streamSession) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.shutFeed(true)

		go func() {
			<-s.connected
			<-s.sendDone
			select {
			case <-s.recvDone:
				return
			case <-s.finalized:
				time.Sleep(streamFinalizeIdle)
			case <-time.After(streamFinalizeMax):
				log.Warn("recognizer finalize timeout, closing stream")
			}
			s.mu.Lock()
			ws := s.ws
			s.mu.Unlock()
			if ws != nil {
				ws.Close()
			}
		}()
	})
	return nil
}

func (s *streamSession) Abort() {
	s.abortOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		ws := s.ws
		s.mu.Unlock()
		close(s.aborted)
		s.shutFeed(false)
		if ws != nil {
			ws.Close()
		}
	})
}

func (s *streamSession) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *streamSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.aborted:
	}
}

func (s *streamSession) drainAudio() {
	for range s.audioCh {
	}
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			if !s.isClosing() {
				log.Warnf("recognizer send: %v", err)
			}
			s.ws.Close()
			s.drainAudio()
			return
		}
	}
	if err := s.ws.CloseSend(); err != nil && !s.isClosing() {
		log.Warnf("recognizer close send: %v", err)
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	defer close(s.events)
	defer func() { s.emit(Event{Kind: End}) }()

	for {
		update, err := s.ws.Recv()
		if err != nil {
			if !s.isClosing() {
				s.emit(errorEvent(codeFor(err), err))
			}
			s.ws.Close()
			return
		}
		if update.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}
		if update.Ignore {
			continue
		}

		text := strings.TrimSpace(update.Transcript)
		isFinal := update.IsFinal || update.SpeechFinal || update.FromFinalize
		if !isFinal {
			if !s.opts.Interim || text == "" {
				continue
			}
			s.mu.Lock()
			changed := text != s.lastPartial
			s.lastPartial = text
			s.mu.Unlock()
			if changed {
				s.emit(Event{Kind: Partial, Text: text})
			}
			continue
		}

		s.mu.Lock()
		s.lastPartial = ""
		s.mu.Unlock()
		if text == "" {
			continue
		}
		s.emit(Event{Kind: Final, Segments: []Segment{{Text: text, Confidence: update.Confidence}}})
		if !s.opts.Continuous {
			s.Stop()
		}
	}
}

func codeFor(err error) string {
	if errors.Is(err, errNotAllowed) {
		return CodeNotAllowed
	}
	if errors.Is(err, errProtocol) {
		return CodeProtocol
	}
	return CodeNetwork
}
