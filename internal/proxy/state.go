package proxy

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/die-net/noxious/internal/link"
	"github.com/die-net/noxious/internal/stop"
	"github.com/die-net/noxious/internal/toxic"
)

// ErrAlreadyExists is returned when a client address is already tracked.
var ErrAlreadyExists = errors.New("client already connected")

// State is the shared, lock-protected state of one proxy. The lock is only
// held for short mutations and snapshots, never across I/O.
type State struct {
	mu      sync.Mutex
	clients map[string]*Links
	toxics  Toxics
}

func NewState(toxics Toxics) *State {
	return &State{
		clients: make(map[string]*Links),
		toxics:  toxics.Clone(),
	}
}

// Toxics returns a snapshot of the current toxics.
func (s *State) Toxics() Toxics {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.toxics.Clone()
}

// Len returns the number of tracked connections.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// StateHolder returns the toxic state of the connection from addr.
func (s *State) StateHolder(addr string) (*toxic.StateHolder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.clients[addr]
	if !ok {
		return nil, false
	}
	return l.state, true
}

// apply mutates the toxics and returns a snapshot of the result.
func (s *State) apply(ev toxic.Event) (Toxics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.toxics.Clone()
	if err := next.Apply(ev); err != nil {
		return Toxics{}, err
	}
	s.toxics = next
	return next.Clone(), nil
}

// takeClients swaps out the whole client map. Connections registered after
// the swap are not included.
func (s *State) takeClients() map[string]*Links {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.clients
	s.clients = make(map[string]*Links)
	return old
}

// remove drops addr if it still refers to links.
func (s *State) remove(addr string, links *Links) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients[addr] == links {
		delete(s.clients, addr)
	}
}

// pair is the two TCP connections behind one proxied client.
type pair struct {
	client   net.Conn
	upstream net.Conn
}

func (p pair) close() {
	_ = p.client.Close()
	_ = p.upstream.Close()
}

// halves are the stream ends the two links of a connection run over.
type halves struct {
	clientRead    link.ReadHalf
	clientWrite   link.WriteHalf
	upstreamRead  link.ReadHalf
	upstreamWrite link.WriteHalf
}

func (p pair) halves() halves {
	return halves{
		clientRead:    p.client,
		clientWrite:   p.client,
		upstreamRead:  p.upstream,
		upstreamWrite: p.upstream,
	}
}

// Links are the two running links of one connection.
type Links struct {
	upstream *link.Link
	client   *link.Link
	// state outlives the links and is handed to every rebuild.
	state   *toxic.StateHolder
	conns   pair
	stopper *stop.Stopper

	claimed atomic.Bool
}

// claim hands the connection to exactly one of its supervisor or a rebuild.
func (l *Links) claim() bool {
	return l.claimed.CompareAndSwap(false, true)
}
