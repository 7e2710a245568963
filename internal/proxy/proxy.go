package proxy

import (
	"errors"
	"fmt"
	"net"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/die-net/noxious/internal/config"
	"github.com/die-net/noxious/internal/dialer"
	"github.com/die-net/noxious/internal/link"
	"github.com/die-net/noxious/internal/metrics"
	"github.com/die-net/noxious/internal/stop"
	"github.com/die-net/noxious/internal/toxic"
)

// Shared is everything a running proxy's goroutines share.
type Shared struct {
	State  *State
	Config config.Proxy

	cfg Config
	log *log.Entry
}

// Initialize validates pc, binds its listen address, and creates the proxy's
// state with the initial toxics.
func Initialize(pc config.Proxy, toxics Toxics, cfg Config) (net.Listener, *Shared, error) {
	if err := pc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("proxy config: %w", err)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = dialer.NewDirectDialer(dialer.Config{KeepAlive: cfg.KeepAlive})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}

	ln, err := ListenTCP(pc.Listen, cfg.KeepAlive)
	if err != nil {
		return nil, nil, err
	}

	logger := log.WithField("proxy", pc.Name)
	logger.WithFields(log.Fields{
		"listen":   ln.Addr().String(),
		"upstream": pc.Upstream,
	}).Info("started proxy")

	return ln, &Shared{
		State:  NewState(toxics),
		Config: pc,
		cfg:    cfg,
		log:    logger,
	}, nil
}

// Run accepts connections on ln until sig fires, and applies toxic events
// from events. It returns nil once stopped, or the accept error that ended
// it.
func Run(ln net.Listener, s *Shared, events <-chan EventRequest, sig stop.Signal) error {
	go s.listenToxicEvents(events, sig)

	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-sig.Done():
			_ = ln.Close()
		case <-exited:
		}
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if sig.Stopped() {
				return nil
			}
			return fmt.Errorf("proxy %s: accept: %w", s.Config.Name, err)
		}
		go s.handleConn(c, sig)
	}
}

func (s *Shared) handleConn(c net.Conn, sig stop.Signal) {
	addr := c.RemoteAddr().String()
	logger := s.log.WithField("addr", addr)
	logger.Info("accepted client")

	ctx, cancel := sig.Context()
	defer cancel()

	up, err := s.cfg.Dialer.DialContext(ctx, "tcp", s.Config.Upstream)
	if err != nil {
		logger.WithError(err).Error("unable to open connection to upstream")
		s.cfg.Metrics.Connections.WithLabelValues(s.Config.Name, "dial_error").Inc()
		_ = c.Close()
		return
	}

	conns := pair{client: c, upstream: up}
	if err := s.createLinks(addr, conns, conns.halves(), s.State.Toxics(), nil, sig); err != nil {
		logger.WithError(err).Error("unable to establish links")
		s.cfg.Metrics.Connections.WithLabelValues(s.Config.Name, "link_error").Inc()
		conns.close()
		return
	}
	s.cfg.Metrics.Connections.WithLabelValues(s.Config.Name, metrics.Result(nil)).Inc()
	s.cfg.Metrics.Active.WithLabelValues(s.Config.Name).Inc()
}

// createLinks starts both links for addr and registers them. A nil holder
// starts a fresh toxic state for the connection.
func (s *Shared) createLinks(addr string, conns pair, h halves, toxics Toxics, holder *toxic.StateHolder, sig stop.Signal) error {
	s.State.mu.Lock()
	defer s.State.mu.Unlock()

	if _, ok := s.State.clients[addr]; ok {
		return fmt.Errorf("%s: %w", addr, ErrAlreadyExists)
	}

	connSig, connStopper := sig.Fork()
	if holder == nil {
		holder = toxic.NewStateHolder()
	}

	upstream := link.New(s.Config, addr, toxic.Upstream, connSig)
	upstream.BytesWritten = s.cfg.Metrics.Bytes.WithLabelValues(s.Config.Name, toxic.Upstream.String())
	client := link.New(s.Config, addr, toxic.Downstream, connSig)
	client.BytesWritten = s.cfg.Metrics.Bytes.WithLabelValues(s.Config.Name, toxic.Downstream.String())

	upDone, err := upstream.Establish(h.clientRead, h.upstreamWrite, toxics.Upstream, holder)
	if err != nil {
		connStopper.Stop()
		return fmt.Errorf("establish upstream link: %w", err)
	}
	downDone, err := client.Establish(h.upstreamRead, h.clientWrite, toxics.Downstream, holder)
	if err != nil {
		connStopper.Stop()
		return fmt.Errorf("establish client link: %w", err)
	}

	links := &Links{
		upstream: upstream,
		client:   client,
		state:    holder,
		conns:    conns,
		stopper:  connStopper,
	}
	s.State.clients[addr] = links

	go s.supervise(addr, links, upDone, downDone)
	return nil
}

// supervise tears the connection down as soon as either direction finishes,
// unless a rebuild has taken the links over.
func (s *Shared) supervise(addr string, links *Links, upDone, downDone <-chan error) {
	var err error
	var other <-chan error
	select {
	case err = <-upDone:
		other = downDone
	case err = <-downDone:
		other = upDone
	}

	if !links.claim() {
		return
	}
	// The other direction may still be finishing, e.g. a slow_close delay.
	links.stopper.Stop()
	<-other
	s.teardown(addr, links)

	logger := s.log.WithField("addr", addr)
	if err != nil && !errors.Is(err, stop.ErrStopped) {
		logger = logger.WithError(err)
	}
	logger.Debug("removed client")
}

// teardown stops and closes a connection the caller has claimed.
func (s *Shared) teardown(addr string, links *Links) {
	links.stopper.Stop()
	s.State.remove(addr, links)
	links.conns.close()
	s.cfg.Metrics.Active.WithLabelValues(s.Config.Name).Dec()
}
