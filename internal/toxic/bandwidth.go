package toxic

import (
	"golang.org/x/time/rate"
)

// Bandwidth limits throughput to Rate KB/s, where a KB is 1000 bytes. Zero
// means unlimited.
type Bandwidth struct {
	Rate int64 `json:"rate"`
}

func (*Bandwidth) Type() string { return "bandwidth" }

func (t *Bandwidth) Pipe(s *Stub) error {
	if t.Rate <= 0 {
		return (&Noop{}).Pipe(s)
	}

	bps := t.Rate * 1000
	// Tokens refill in 100ms slices so short bursts stay close to the rate.
	burst := int(max(bps/10, 1))
	limiter := rate.NewLimiter(rate.Limit(bps), burst)

	ctx, cancel := s.Stop.Context()
	defer cancel()

	for {
		chunk, ok := s.Recv()
		if !ok {
			return nil
		}
		for len(chunk) > 0 {
			n := min(len(chunk), burst)
			if err := limiter.WaitN(ctx, n); err != nil {
				return nil
			}
			if err := s.Send(chunk[:n]); err != nil {
				return nil
			}
			chunk = chunk[n:]
		}
	}
}
