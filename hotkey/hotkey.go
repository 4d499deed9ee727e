// Package hotkey listens for the global Ctrl+Shift+Space chord and turns it
// into practice commands.
package hotkey

import "time"

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

const Chord = "Ctrl+Shift+Space"

// DefaultHold is how long the chord must be held to count as a reset.
const DefaultHold = 800 * time.Millisecond

type Action int

const (
	// Toggle starts a session when idle and stops it when recording.
	Toggle Action = iota
	// Reset discards whatever the session is doing.
	Reset
)

func (a Action) String() string {
	if a == Reset {
		return "reset"
	}
	return "toggle"
}

// Controller maps presses of a Hotkey to Actions: a tap toggles, a hold of
// at least hold resets. The action fires on release.
type Controller struct {
	actions chan Action
	stop    chan struct{}
	done    chan struct{}
}

func NewController(hk Hotkey, hold time.Duration) *Controller {
	if hold <= 0 {
		hold = DefaultHold
	}
	c := &Controller{
		actions: make(chan Action, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run(hk, hold)
	return c
}

func (c *Controller) Actions() <-chan Action { return c.actions }

// Close stops the controller. The underlying Hotkey is left registered.
func (c *Controller) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

func (c *Controller) run(hk Hotkey, hold time.Duration) {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case <-hk.Keydown():
		}
		pressed := time.Now()

		select {
		case <-c.stop:
			return
		case <-hk.Keyup():
		}

		a := Toggle
		if time.Since(pressed) >= hold {
			a = Reset
		}
		// a press while the previous action is still pending is dropped
		select {
		case c.actions <- a:
		default:
		}
	}
}
