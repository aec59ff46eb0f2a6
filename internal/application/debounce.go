package application

import (
	"sync"
	"time"
)

// debouncer coalesces rapid repeated trigger events for the same
// execution into a single recomputation. Each trigger resets the
// execution's timer; the fire callback runs once the window elapses
// without further triggers.
type debouncer struct {
	window time.Duration
	fire   func(executionID string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, fire func(executionID string)) *debouncer {
	return &debouncer{
		window: window,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

func (d *debouncer) trigger(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.timers[executionID]; ok {
		t.Reset(d.window)
		return
	}
	d.timers[executionID] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.timers, executionID)
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fire(executionID)
		}
	})
}

// stop cancels all pending timers. Triggers after stop are ignored.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}
