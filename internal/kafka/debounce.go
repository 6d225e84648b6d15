package kafka

import (
	"context"
	"time"
)

// debouncer coalesces notifications: the first one opens a window of length
// wait and fire runs once when it closes, however many arrived meanwhile.
type debouncer struct {
	wait   time.Duration
	signal chan struct{}
	fire   func(context.Context)
}

func newDebouncer(wait time.Duration, fire func(context.Context)) *debouncer {
	return &debouncer{
		wait:   wait,
		signal: make(chan struct{}, 1),
		fire:   fire,
	}
}

func (d *debouncer) Notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *debouncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.signal:
		}

		if d.wait > 0 {
			timer := time.NewTimer(d.wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		// Notifications that arrived during the window are covered by this pass.
		select {
		case <-d.signal:
		default:
		}
		d.fire(ctx)
	}
}
