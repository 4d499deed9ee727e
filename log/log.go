package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	diagFileName     = "diagnostics_log.txt"
	practiceFileName = "practice_log.txt"
	envLogPath       = "VOXCOACH_LOG_PATH"
)

var (
	diagLog      zerolog.Logger
	diagFile     *os.File
	practiceFile *os.File
	logMu        sync.Mutex
	logReady     atomic.Bool
	pid          int
	dir          string
)

func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv(envLogPath); envPath != "" {
		return absolute(envPath)
	}
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	practiceFile, err = os.OpenFile(filepath.Join(dir, practiceFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if practiceFile != nil {
		practiceFile.Close()
		practiceFile = nil
	}
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady.Load() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(id, exercise, source, format string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("exercise", exercise).
		Str("source", source).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(id, outcome string, words int, elapsedS uint32) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("outcome", outcome).
		Int("words", words).
		Uint32("elapsed_s", elapsedS).
		Msg("session_end")
}

type ScoreData struct {
	Clarity        float64
	Pace           float64
	Volume         float64
	Confidence     float64
	Pronunciation  float64
	Overall        int
	WordsPerMinute float64
	MeanAudioLevel float64
}

func Score(id string, s ScoreData) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Float64("clarity", s.Clarity).
		Float64("pace", s.Pace).
		Float64("volume", s.Volume).
		Float64("confidence", s.Confidence).
		Float64("pronunciation", s.Pronunciation).
		Int("overall", s.Overall).
		Float64("wpm", s.WordsPerMinute).
		Float64("mean_level", s.MeanAudioLevel).
		Msg("score")
	practiceLine(fmt.Sprintf("score\t%d\tclarity=%.0f pace=%.0f volume=%.0f confidence=%.0f pronunciation=%.0f",
		s.Overall, s.Clarity, s.Pace, s.Volume, s.Confidence, s.Pronunciation))
}

func Reconnect(attempt int, delay time.Duration, cause error) {
	if !logReady.Load() {
		return
	}
	diagLog.Warn().
		Int("attempt", attempt).
		Dur("delay", delay).
		AnErr("cause", cause).
		Msg("recognizer_reconnect")
}

// Transcript appends one finalized segment to the practice log.
func Transcript(text string) {
	practiceLine("text\t" + strings.TrimSpace(text))
}

func practiceLine(body string) {
	if !logReady.Load() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if practiceFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, body)
	practiceFile.WriteString(line)
}
