package proxy

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/apex/log"

	"github.com/die-net/noxious/internal/stop"
	"github.com/die-net/noxious/internal/toxic"
)

var errClosing = errors.New("connection closing")

// EventRequest is a toxic event waiting to be applied, with the channel its
// result is sent on.
type EventRequest struct {
	Event toxic.Event

	reply chan error
}

func (r EventRequest) respond(err error) {
	r.reply <- err
}

// Events is the sending side of a proxy's toxic event channel.
type Events struct {
	ch chan EventRequest
}

// NewEventChannel returns a sender and the receiving channel to pass to Run.
func NewEventChannel(size int) (*Events, <-chan EventRequest) {
	ch := make(chan EventRequest, size)
	return &Events{ch: ch}, ch
}

// Send submits ev and waits until it has been applied to the proxy and all of
// its live connections. It returns toxic.ErrNotFound or
// toxic.ErrAlreadyExists (wrapped) when the event could not be applied.
func (e *Events) Send(ctx context.Context, ev toxic.Event) error {
	req := EventRequest{Event: ev, reply: make(chan error, 1)}

	select {
	case e.ch <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the receiving loop once queued events are drained.
func (e *Events) Close() {
	close(e.ch)
}

func (s *Shared) listenToxicEvents(events <-chan EventRequest, sig stop.Signal) {
	for {
		select {
		case req, ok := <-events:
			if !ok {
				return
			}
			s.processToxicEvent(req, sig)
		case <-sig.Done():
			return
		}
	}
}

// processToxicEvent applies one event, then rebuilds every live connection
// with the new toxics, in address order. Connections that fail to rebuild
// are closed; the others are unaffected.
func (s *Shared) processToxicEvent(req EventRequest, sig stop.Signal) {
	ev := req.Event
	logger := s.log.WithFields(log.Fields{
		"event": ev.Kind.String(),
		"toxic": ev.Name,
	})

	toxics, err := s.State.apply(ev)
	s.cfg.Metrics.Events.WithLabelValues(s.Config.Name, ev.Kind.String(), resultLabel(err)).Inc()
	if err != nil {
		logger.WithError(err).Warn("toxic event rejected")
		req.respond(err)
		return
	}

	old := s.State.takeClients()
	for _, addr := range slices.Sorted(maps.Keys(old)) {
		err := s.recreateLinks(addr, old[addr], toxics, sig)
		switch {
		case errors.Is(err, errClosing):
			logger.WithField("addr", addr).Debug("skipped closing client")
			continue
		case err != nil:
			logger.WithField("addr", addr).WithError(err).Error("failed to recreate links for client")
		}
		s.cfg.Metrics.Rebuilds.WithLabelValues(s.Config.Name, resultLabel(err)).Inc()
	}

	logger.Infof("applied toxic event to %d clients", len(old))
	req.respond(nil)
}

// recreateLinks disbands a connection's links and builds new ones over the
// same streams, keeping its toxic state.
func (s *Shared) recreateLinks(addr string, links *Links, toxics Toxics, sig stop.Signal) error {
	if !links.claim() {
		return errClosing
	}

	clientRead, upstreamWrite, err := links.upstream.Disband()
	if err != nil {
		s.teardown(addr, links)
		return err
	}
	upstreamRead, clientWrite, err := links.client.Disband()
	if err != nil {
		s.teardown(addr, links)
		return err
	}
	links.stopper.Stop()

	h := halves{
		clientRead:    clientRead,
		clientWrite:   clientWrite,
		upstreamRead:  upstreamRead,
		upstreamWrite: upstreamWrite,
	}
	if err := s.createLinks(addr, links.conns, h, toxics, links.state, sig); err != nil {
		s.teardown(addr, links)
		return err
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, toxic.ErrNotFound):
		return "not_found"
	case errors.Is(err, toxic.ErrAlreadyExists):
		return "already_exists"
	default:
		return "error"
	}
}
