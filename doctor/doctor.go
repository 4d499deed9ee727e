// Package doctor checks that the machine can run a practice session: a
// microphone that delivers audio, the hotkey, the recognizer and the
// clipboard.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"voxcoach/audio"
	"voxcoach/capture"
	"voxcoach/clipboard"
	"voxcoach/waveform"
)

// DefaultListen is how long the microphone check records.
const DefaultListen = 2 * time.Second

// quietLevel is the mean waveform level below which the mic is considered
// silent.
const quietLevel = 2.0

var ErrSilent = errors.New("microphone delivered only silence")

type Result struct {
	Name   string
	Detail string
	Err    error
	// Warn marks a failure that does not prevent practice.
	Warn bool
}

type Options struct {
	Audio  audio.Context
	Device *audio.DeviceInfo
	Format string
	Listen time.Duration

	Hotkey     func() (string, error)
	Recognizer func() error
	Clipboard  bool
}

// Check runs every configured check in order.
func Check(ctx context.Context, opts Options) []Result {
	var out []Result
	if opts.Hotkey != nil {
		detail, err := opts.Hotkey()
		out = append(out, Result{Name: "hotkey", Detail: detail, Err: err, Warn: true})
	}
	if opts.Audio != nil {
		out = append(out, checkDevices(opts.Audio))
		out = append(out, checkMic(ctx, opts))
	}
	if opts.Recognizer != nil {
		r := Result{Name: "recognizer", Detail: "credentials present"}
		r.Err = opts.Recognizer()
		out = append(out, r)
	}
	if opts.Clipboard {
		r := Result{Name: "clipboard", Detail: "copy works", Warn: true}
		r.Err = clipboard.Copy("voxcoach doctor")
		out = append(out, r)
	}
	return out
}

func checkDevices(actx audio.Context) Result {
	r := Result{Name: "devices"}
	devices, err := actx.Devices()
	if err != nil {
		r.Err = err
		return r
	}
	if len(devices) == 0 {
		r.Err = fmt.Errorf("%w: no capture devices found", audio.ErrDeviceUnavailable)
		return r
	}
	bt := 0
	for _, d := range devices {
		if audio.IsBluetooth(d.Name) {
			bt++
		}
	}
	r.Detail = fmt.Sprintf("%d capture device(s)", len(devices))
	if bt > 0 {
		r.Detail += fmt.Sprintf(", %d bluetooth", bt)
	}
	return r
}

// checkMic records through the same capture path a session uses and
// reports the level it saw.
func checkMic(ctx context.Context, opts Options) Result {
	r := Result{Name: "microphone"}
	listen := opts.Listen
	if listen <= 0 {
		listen = DefaultListen
	}
	format := opts.Format
	if format == "" {
		format = "flac"
	}

	var mu sync.Mutex
	var levelSum float64
	var frames int
	failed := make(chan error, 1)
	mgr := capture.New(opts.Audio, capture.Config{Device: opts.Device, Format: format}, nil, func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	h, err := mgr.Start(ctx)
	if err != nil {
		r.Err = err
		return r
	}
	samp := waveform.NewSampler(h.Tap, waveform.DefaultInterval, func(_ waveform.Frame, level float64) {
		mu.Lock()
		levelSum += level
		frames++
		mu.Unlock()
	})
	samp.Start()

	select {
	case <-time.After(listen):
	case err = <-failed:
	case <-ctx.Done():
		err = ctx.Err()
	}
	samp.Stop()
	art, stopErr := mgr.Stop()
	defer art.Release()
	if err == nil {
		err = stopErr
	}
	if err != nil {
		r.Err = err
		return r
	}

	mu.Lock()
	mean := 0.0
	if frames > 0 {
		mean = levelSum / float64(frames)
	}
	mu.Unlock()

	r.Detail = fmt.Sprintf("%s, %.1fs recorded (%d KB %s), mean level %.1f",
		h.DeviceName, art.Duration().Seconds(), len(art.Bytes)/1024, art.Ext, mean)
	if h.Bluetooth {
		r.Detail += ", bluetooth"
	}
	if mean < quietLevel {
		r.Err = ErrSilent
		r.Warn = true
	}
	return r
}

// Print writes results and returns the exit code: 1 if any check failed
// outright.
func Print(w io.Writer, results []Result) int {
	code := 0
	for _, r := range results {
		switch {
		case r.Err == nil:
			fmt.Fprintf(w, "  ✓ %-11s %s\n", r.Name, r.Detail)
		case r.Warn:
			fmt.Fprintf(w, "  ! %-11s %v\n", r.Name, r.Err)
			if r.Detail != "" {
				fmt.Fprintf(w, "    %-11s %s\n", "", r.Detail)
			}
		default:
			fmt.Fprintf(w, "  ✗ %-11s %v\n", r.Name, r.Err)
			code = 1
		}
	}
	return code
}
