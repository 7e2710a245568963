package toxic

import "time"

// Latency delays each chunk by Latency ± Jitter milliseconds.
type Latency struct {
	Latency int64 `json:"latency"`
	Jitter  int64 `json:"jitter"`
}

func (*Latency) Type() string { return "latency" }

func (t *Latency) Pipe(s *Stub) error {
	for {
		chunk, ok := s.Recv()
		if !ok {
			return nil
		}
		if !s.Sleep(t.delay(s)) {
			return nil
		}
		if err := s.Send(chunk); err != nil {
			return nil
		}
	}
}

func (t *Latency) delay(s *Stub) time.Duration {
	ms := t.Latency
	if t.Jitter > 0 {
		ms += s.rng().Int64N(2*t.Jitter+1) - t.Jitter
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}
