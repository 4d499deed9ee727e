// Package clipboard shares session results through the system clipboard.
package clipboard

import (
	"errors"
	"fmt"

	cb "github.com/atotto/clipboard"

	"voxcoach/analysis"
)

var ErrUnsupported = errors.New("clipboard unavailable (install xclip, xsel or wl-clipboard)")

var (
	readAll  = cb.ReadAll
	writeAll = cb.WriteAll
	missing  = func() bool { return cb.Unsupported }
)

func Read() (string, error) {
	if missing() {
		return "", ErrUnsupported
	}
	return readAll()
}

func Copy(text string) error {
	if missing() {
		return ErrUnsupported
	}
	if err := writeAll(text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}

// ShareReport copies the one-line summary of a scored session.
func ShareReport(r analysis.Report, exerciseName string) (string, error) {
	text := r.Result.ShareText(exerciseName)
	return text, Copy(text)
}
