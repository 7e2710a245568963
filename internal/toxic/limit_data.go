package toxic

import "sync/atomic"

// LimitData closes the link once Bytes bytes have passed through it. The
// count is kept per connection and survives chain rebuilds.
type LimitData struct {
	Bytes int64 `json:"bytes"`
}

// LimitDataState is the running byte count of a LimitData toxic.
type LimitDataState struct {
	transmitted atomic.Int64
}

// Transmitted returns the number of bytes forwarded so far.
func (st *LimitDataState) Transmitted() int64 {
	return st.transmitted.Load()
}

func (*LimitData) Type() string { return "limit_data" }

func (*LimitData) NewState() any { return &LimitDataState{} }

func (t *LimitData) Pipe(s *Stub) error {
	st := s.stateHolder().Load(s.Key, t.NewState).(*LimitDataState)

	for st.Transmitted() < t.Bytes {
		chunk, ok := s.Recv()
		if !ok {
			return nil
		}
		if remaining := t.Bytes - st.Transmitted(); int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if err := s.Send(chunk); err != nil {
			return nil
		}
		st.transmitted.Add(int64(len(chunk)))
	}
	return nil
}
