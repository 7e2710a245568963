package toxic

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/die-net/noxious/internal/stop"
)

// ErrOutputClosed is returned by Stub.Send once the next stage has gone away.
var ErrOutputClosed = errors.New("toxic output closed")

// Stub is one toxic's view of its place in a chain.
//
// Input is closed when the previous stage is finished. The runner closes
// Output after Pipe returns.
type Stub struct {
	Input  <-chan []byte
	Output chan<- []byte
	Stop   stop.Signal
	State  *StateHolder
	Key    string
	Rand   *rand.Rand

	outputDone <-chan struct{}
}

// NewStub wires a stub between input and output. outputDone must be closed
// when the consumer of output stops reading.
func NewStub(input <-chan []byte, output chan<- []byte, outputDone <-chan struct{}, sig stop.Signal) *Stub {
	return &Stub{
		Input:      input,
		Output:     output,
		Stop:       sig,
		outputDone: outputDone,
	}
}

// Recv returns the next chunk. ok is false once the input has ended or the
// stub was stopped.
func (s *Stub) Recv() (chunk []byte, ok bool) {
	select {
	case chunk, ok = <-s.Input:
		return chunk, ok
	case <-s.Stop.Done():
		return nil, false
	}
}

// Send hands chunk to the next stage.
func (s *Stub) Send(chunk []byte) error {
	select {
	case s.Output <- chunk:
		return nil
	case <-s.outputDone:
		return ErrOutputClosed
	case <-s.Stop.Done():
		return stop.ErrStopped
	}
}

// Sleep waits for d, returning false if the stub was stopped first.
func (s *Stub) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !s.Stop.Stopped()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-s.Stop.Done():
		return false
	}
}

func (s *Stub) stateHolder() *StateHolder {
	if s.State == nil {
		s.State = NewStateHolder()
	}
	return s.State
}

func (s *Stub) rng() *rand.Rand {
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s.Rand
}
