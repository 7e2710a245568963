package toxic

import "time"

// Timeout stops all data from getting through. With a non-zero Timeout (in
// milliseconds) the link is closed once it elapses; otherwise data is held
// until the toxic is removed or the connection ends.
type Timeout struct {
	Timeout int64 `json:"timeout"`
}

func (*Timeout) Type() string { return "timeout" }

func (t *Timeout) Pipe(s *Stub) error {
	var expired <-chan time.Time
	if t.Timeout > 0 {
		timer := time.NewTimer(time.Duration(t.Timeout) * time.Millisecond)
		defer timer.Stop()
		expired = timer.C
	}

	input := s.Input
	for {
		select {
		case _, ok := <-input:
			if !ok {
				input = nil
			}
		case <-expired:
			return nil
		case <-s.Stop.Done():
			return nil
		}
	}
}
