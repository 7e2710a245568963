package toxic

import "sync"

// StateHolder keeps per-connection state for stateful toxics. One holder is
// created per connection and handed to every rebuild of its chains, so
// stateful toxics pick up where they left off.
type StateHolder struct {
	mu     sync.Mutex
	states map[string]any
}

func NewStateHolder() *StateHolder {
	return &StateHolder{states: make(map[string]any)}
}

// StateKey returns the holder key for a toxic. Names are only unique within
// one direction, so the direction is part of the key.
func StateKey(dir Direction, name string) string {
	return dir.String() + "/" + name
}

// Load returns the state stored under key, creating it with init if absent.
func (h *StateHolder) Load(key string, init func() any) any {
	h.mu.Lock()
	defer h.mu.Unlock()

	if v, ok := h.states[key]; ok {
		return v
	}
	v := init()
	h.states[key] = v
	return v
}

// Get returns the state stored under key, if any.
func (h *StateHolder) Get(key string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.states[key]
	return v, ok
}

// Len returns the number of stored states.
func (h *StateHolder) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.states)
}
