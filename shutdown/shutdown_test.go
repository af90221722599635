package shutdown

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestFirstSignalCancels(t *testing.T) {
	ch := make(chan os.Signal, 2)
	forced := make(chan os.Signal, 1)
	ctx, stop := watch(context.Background(), ch, func(s os.Signal) { forced <- s })
	defer stop()

	ch <- os.Interrupt
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by signal")
	}
	select {
	case <-forced:
		t.Fatal("force called on first signal")
	case <-time.After(20 * time.Millisecond):
	}

	ch <- os.Kill
	select {
	case s := <-forced:
		if s != os.Kill {
			t.Errorf("force got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("second signal did not force")
	}
}

func TestStopWithoutSignal(t *testing.T) {
	ch := make(chan os.Signal, 1)
	ctx, stop := watch(context.Background(), ch, func(os.Signal) {
		t.Error("force called")
	})
	stop()
	stop()
	if ctx.Err() == nil {
		t.Error("stop did not cancel")
	}
	ch <- os.Interrupt
	time.Sleep(20 * time.Millisecond)
}

func TestParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := watch(parent, make(chan os.Signal), nil)
	defer stop()
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("child not cancelled with parent")
	}
}
