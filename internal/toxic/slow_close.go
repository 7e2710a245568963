package toxic

import (
	"errors"
	"time"
)

// SlowClose forwards chunks unchanged but delays the close of the link.
//
// Whichever comes first of the input ending, the stub being stopped, or the
// output going away, the stage waits Delay before it finishes. The wait is not
// interruptible.
type SlowClose struct {
	// Delay in milliseconds.
	Delay uint64 `json:"delay"`
}

func (*SlowClose) Type() string { return "slow_close" }

func (t *SlowClose) Pipe(s *Stub) error {
	var werr error
	for !s.Stop.Stopped() {
		chunk, ok := s.Recv()
		if !ok {
			break
		}
		if err := s.Send(chunk); err != nil {
			if !errors.Is(err, ErrOutputClosed) {
				break
			}
			werr = err
		}
	}

	time.Sleep(time.Duration(t.Delay) * time.Millisecond)
	return werr
}
