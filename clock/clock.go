// Package clock drives the once-per-second session tick.
package clock

import (
	"fmt"
	"sync"
	"time"
)

const DefaultInterval = time.Second

type Ticker struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start calls fn every interval until Stop. An interval of zero or less
// returns a Ticker that never fires.
func Start(interval time.Duration, fn func()) *Ticker {
	t := &Ticker{stop: make(chan struct{}), done: make(chan struct{})}
	if interval <= 0 {
		close(t.done)
		return t
	}
	go func() {
		defer close(t.done)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				select {
				case <-t.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

// Stop waits for the loop to exit; fn is not called after Stop returns.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

// FormatElapsed renders seconds as mm:ss.
func FormatElapsed(seconds uint32) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
