package toxic

import "time"

// Slicer splits chunks into smaller ones of AverageSize ± SizeVariation
// bytes, waiting Delay microseconds between them.
type Slicer struct {
	AverageSize   int `json:"average_size"`
	SizeVariation int `json:"size_variation"`
	Delay         int `json:"delay"`
}

func (*Slicer) Type() string { return "slicer" }

func (t *Slicer) Pipe(s *Stub) error {
	delay := time.Duration(t.Delay) * time.Microsecond
	for {
		chunk, ok := s.Recv()
		if !ok {
			return nil
		}
		for len(chunk) > 0 {
			n := min(t.size(s), len(chunk))
			if err := s.Send(chunk[:n]); err != nil {
				return nil
			}
			chunk = chunk[n:]
			if len(chunk) > 0 && !s.Sleep(delay) {
				return nil
			}
		}
	}
}

func (t *Slicer) size(s *Stub) int {
	size := t.AverageSize
	if v := t.SizeVariation; v > 0 {
		size += s.rng().IntN(2*v+1) - v
	}
	return max(size, 1)
}
