package capture

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	FFTSize   = 256
	Bins      = FFTSize / 2
	minDB     = -100.0
	maxDB     = -30.0
	smoothing = 0.8
)

// Tap is the analysis side of the capture pipeline. It keeps the most recent
// FFTSize samples and reports their smoothed spectrum as bytes, scaled
// between minDB and maxDB.
type Tap struct {
	mu       sync.Mutex
	ring     [FFTSize]float64
	pos      int
	smoothed [Bins]float64
	fft      *fourier.FFT
	frame    []float64
	coeff    []complex128
	closed   bool
}

func NewTap() *Tap {
	return &Tap{
		fft:   fourier.NewFFT(FFTSize),
		frame: make([]float64, FFTSize),
		coeff: make([]complex128, FFTSize/2+1),
	}
}

// Write consumes 16-bit little-endian mono PCM.
func (t *Tap) Write(pcm []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		t.ring[t.pos] = float64(s) / 32768
		t.pos = (t.pos + 1) % FFTSize
	}
}

// FrequencyData returns Bins magnitudes in [0,255]. A closed tap reports
// silence.
func (t *Tap) FrequencyData() []byte {
	out := make([]byte, Bins)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return out
	}

	for i := range FFTSize {
		t.frame[i] = t.ring[(t.pos+i)%FFTSize]
	}
	window.Blackman(t.frame)
	t.coeff = t.fft.Coefficients(t.coeff, t.frame)

	for k := range Bins {
		mag := cmplx.Abs(t.coeff[k]) / FFTSize
		t.smoothed[k] = smoothing*t.smoothed[k] + (1-smoothing)*mag
		out[k] = scaleDB(t.smoothed[k])
	}
	return out
}

func scaleDB(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDB) / (maxDB - minDB)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}

func (t *Tap) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
