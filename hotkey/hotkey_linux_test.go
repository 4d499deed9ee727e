//go:build linux

package hotkey

import "testing"

func TestChord(t *testing.T) {
	var c chord
	steps := []struct {
		code     uint16
		value    int32
		down, up bool
	}{
		{keySpace, keyPress, false, false}, // no modifiers
		{keySpace, keyRelease, false, false},
		{keyLCtrl, keyPress, false, false},
		{keySpace, keyPress, false, false}, // shift missing
		{keySpace, keyRelease, false, false},
		{keyRShift, keyPress, false, false},
		{keySpace, keyPress, true, false},
		{keySpace, 2, false, false}, // autorepeat
		{keyLCtrl, keyRelease, false, false},
		{keySpace, keyRelease, false, true},
		{keySpace, keyPress, false, false}, // ctrl released
	}
	for i, s := range steps {
		down, up := c.feed(s.code, s.value)
		if down != s.down || up != s.up {
			t.Fatalf("step %d: got down=%v up=%v, want %v %v", i, down, up, s.down, s.up)
		}
	}
}
