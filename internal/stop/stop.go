package stop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is reported by operations that ended because their signal fired.
var ErrStopped = errors.New("stopped")

// Signal is a read-only view of a stop event. Copies share the same event.
type Signal struct {
	done <-chan struct{}
}

// Stopper fires the Signal it was created with.
type Stopper struct {
	once sync.Once
	done chan struct{}
}

// New returns a root signal and the stopper that fires it.
func New() (Signal, *Stopper) {
	s := &Stopper{done: make(chan struct{})}
	return Signal{done: s.done}, s
}

// Stop fires the signal. Calling it more than once is harmless.
func (s *Stopper) Stop() {
	s.once.Do(func() { close(s.done) })
}

// Stopped reports whether the signal has fired, without blocking.
func (s Signal) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the signal fires.
func (s Signal) Done() <-chan struct{} {
	return s.done
}

// Recv blocks until the signal fires.
func (s Signal) Recv() {
	<-s.done
}

// Fork returns a child signal with its own stopper. The child is stopped
// when s is stopped.
func (s Signal) Fork() (Signal, *Stopper) {
	child, stopper := New()
	go func() {
		select {
		case <-s.done:
			stopper.Stop()
		case <-stopper.done:
		}
	}()
	return child, stopper
}

// Context returns a context that is cancelled when the signal fires. The
// returned cancel func releases the watcher early.
func (s Signal) Context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s Signal) String() string {
	if s.Stopped() {
		return "stopped"
	}
	return "not stopped"
}
