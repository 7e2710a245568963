package toxic

// Noop forwards every chunk unchanged.
type Noop struct{}

func (*Noop) Type() string { return "noop" }

func (*Noop) Pipe(s *Stub) error {
	for {
		chunk, ok := s.Recv()
		if !ok {
			return nil
		}
		if err := s.Send(chunk); err != nil {
			return nil
		}
	}
}
