package encoder

import (
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFlac = "flac"
	FormatWav  = "wav"
)

// ChunkSink receives encoded output in production order. The slice is owned
// by the sink once delivered.
type ChunkSink func(chunk []byte)

type Encoder interface {
	EncodeBlock(block []int16) error
	// Close flushes any buffered tail to the sink. No chunk is delivered after
	// Close returns.
	Close() error
	TotalFrames() uint64
	MimeType() string
	Ext() string
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

func New(format string, sink ChunkSink) (Encoder, error) {
	switch format {
	case FormatFlac, "":
		return NewFlac(sink)
	case FormatWav:
		return NewWav(sink), nil
	default:
		return nil, fmt.Errorf("unknown encoder format %q", format)
	}
}

// sinkWriter adapts a ChunkSink to io.Writer, copying each write since
// encoders reuse their buffers.
type sinkWriter struct {
	sink ChunkSink
	n    int64
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.sink(chunk)
	w.n += int64(len(p))
	return len(p), nil
}
