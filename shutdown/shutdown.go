// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// Context returns a child of parent that is cancelled by the first
// interrupt or termination signal. A second signal calls force, for when a
// request in flight ignores cancellation. The returned stop function
// releases the signal handler and cancels the context.
func Context(parent context.Context, force func(os.Signal)) (context.Context, context.CancelFunc) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, signals...)
	ctx, stop := watch(parent, ch, force)
	return ctx, func() {
		stop()
		signal.Stop(ch)
	}
}

func watch(parent context.Context, ch <-chan os.Signal, force func(os.Signal)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case <-ch:
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-ch:
			if force != nil {
				force(sig)
			}
		case <-done:
		}
	}()

	return ctx, func() {
		once.Do(func() { close(done) })
		cancel()
	}
}
