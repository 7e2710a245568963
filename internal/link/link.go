package link

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/noxious/internal/config"
	"github.com/die-net/noxious/internal/stop"
	"github.com/die-net/noxious/internal/toxic"
)

// The default io.Copy buffer size.
const readBufferSize = 32768

var (
	// ErrNotEstablished is returned by Disband on a link that is not running.
	ErrNotEstablished = errors.New("link not established")
	// ErrAlreadyEstablished is returned by Establish on a running link.
	ErrAlreadyEstablished = errors.New("link already established")
	// ErrConsumed is returned by Disband when the pipeline finished on its own
	// before it could be stopped, leaving nothing worth handing back.
	ErrConsumed = errors.New("link streams already consumed")
)

// aLongTimeAgo is a non-zero deadline in the past, used to unblock I/O.
var aLongTimeAgo = time.Unix(1, 0)

// ReadHalf is the source side of a link.
type ReadHalf interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// WriteHalf is the sink side of a link.
type WriteHalf interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

// Link owns the pipeline for one direction of one connection.
type Link struct {
	// BytesWritten, if set, is increased by every byte written to the sink.
	BytesWritten prometheus.Counter

	addr      string
	direction toxic.Direction
	config    config.Proxy
	parent    stop.Signal
	rand      *rand.Rand
	log       *log.Entry

	mu      sync.Mutex
	src     ReadHalf
	dst     WriteHalf
	stopper *stop.Stopper
	done    chan struct{}
}

// New returns an idle link for the connection from addr. sig scopes the
// link's lifetime; stopping it stops the pipeline.
func New(cfg config.Proxy, addr string, direction toxic.Direction, sig stop.Signal) *Link {
	var src rand.Source
	if cfg.RandSeed != nil {
		src = rand.NewPCG(*cfg.RandSeed, uint64(direction))
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	return &Link{
		addr:      addr,
		direction: direction,
		config:    cfg,
		parent:    sig,
		rand:      rand.New(src),
		log: log.WithFields(log.Fields{
			"proxy":     cfg.Name,
			"addr":      addr,
			"direction": direction.String(),
		}),
	}
}

// Direction returns which half of the connection l carries.
func (l *Link) Direction() toxic.Direction {
	return l.direction
}

// Establish starts a pipeline from src through toxics, in order, to dst.
// Every toxic stage sees the same state holder.
//
// The returned channel receives the pipeline's result once: nil when src
// reached EOF, an I/O error, or stop.ErrStopped when the pipeline was
// stopped.
func (l *Link) Establish(src ReadHalf, dst WriteHalf, toxics []toxic.Toxic, state *toxic.StateHolder) (<-chan error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.src != nil {
		return nil, ErrAlreadyEstablished
	}
	if state == nil {
		state = toxic.NewStateHolder()
	}

	sig, stopper := l.parent.Fork()
	l.src, l.dst = src, dst
	l.stopper = stopper
	l.done = make(chan struct{})

	stages := l.buildStages(toxics, state)
	result := make(chan error, 1)
	done := l.done
	go func() {
		err := l.run(sig, src, dst, stages)
		if err == nil && sig.Stopped() {
			err = stop.ErrStopped
		}
		close(done)
		result <- err
		close(result)
	}()

	l.log.Debugf("established with %d toxics", len(stages))
	return result, nil
}

// Disband stops the pipeline, waits for it to finish, and returns the source
// and sink so that they can be used by a new link.
func (l *Link) Disband() (ReadHalf, WriteHalf, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.src == nil {
		return nil, nil, ErrNotEstablished
	}
	src, dst := l.src, l.dst
	l.src, l.dst = nil, nil

	consumed := false
	select {
	case <-l.done:
		consumed = true
	default:
	}

	l.stopper.Stop()
	<-l.done

	if consumed {
		return nil, nil, ErrConsumed
	}
	if err := src.SetReadDeadline(time.Time{}); err != nil {
		return nil, nil, fmt.Errorf("recover source: %w", err)
	}
	if err := dst.SetWriteDeadline(time.Time{}); err != nil {
		return nil, nil, fmt.Errorf("recover sink: %w", err)
	}

	l.log.Debug("disbanded")
	return src, dst, nil
}

type stage struct {
	key   string
	kind  toxic.Kind
	rand  *rand.Rand
	state *toxic.StateHolder
}

func (l *Link) buildStages(toxics []toxic.Toxic, state *toxic.StateHolder) []stage {
	stages := make([]stage, 0, len(toxics))
	for _, t := range toxics {
		kind := t.Kind
		if !t.Roll(l.rand) {
			kind = &toxic.Noop{}
		}
		stages = append(stages, stage{
			key:   t.Key(),
			kind:  kind,
			rand:  rand.New(rand.NewPCG(l.rand.Uint64(), l.rand.Uint64())),
			state: state,
		})
	}
	return stages
}

// run drives reader → stages → writer. chans[i] feeds stage i; the last
// channel feeds the writer. consumed[i] is closed once the reader of chans[i]
// has exited.
func (l *Link) run(sig stop.Signal, src ReadHalf, dst WriteHalf, stages []stage) error {
	pipeSig, pipeStopper := sig.Fork()
	defer pipeStopper.Stop()

	n := len(stages)
	chans := make([]chan []byte, n+1)
	consumed := make([]chan struct{}, n+1)
	for i := range chans {
		chans[i] = make(chan []byte)
		consumed[i] = make(chan struct{})
	}

	var g errgroup.Group

	g.Go(func() error {
		defer close(chans[0])
		return l.read(pipeSig, src, chans[0], consumed[0])
	})

	for i, st := range stages {
		g.Go(func() error {
			defer close(consumed[i])
			defer close(chans[i+1])

			stub := toxic.NewStub(chans[i], chans[i+1], consumed[i+1], pipeSig)
			stub.State = st.state
			stub.Key = st.key
			stub.Rand = st.rand
			if err := st.kind.Pipe(stub); err != nil {
				l.log.WithError(err).Debugf("toxic %s finished", st.key)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer pipeStopper.Stop()
		defer close(consumed[n])
		return l.write(pipeSig, dst, chans[n])
	})

	return g.Wait()
}

func (l *Link) read(sig stop.Signal, src ReadHalf, out chan<- []byte, consumed <-chan struct{}) error {
	defer interruptOnStop(sig, src.SetReadDeadline)()

	for {
		buf := make([]byte, readBufferSize)
		n, err := src.Read(buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-consumed:
				return nil
			case <-sig.Done():
				return nil
			}
		}
		if err != nil {
			if sig.Stopped() || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (l *Link) write(sig stop.Signal, dst WriteHalf, in <-chan []byte) error {
	defer interruptOnStop(sig, dst.SetWriteDeadline)()

	for chunk := range in {
		n, err := dst.Write(chunk)
		if l.BytesWritten != nil && n > 0 {
			l.BytesWritten.Add(float64(n))
		}
		if err != nil {
			if sig.Stopped() {
				return nil
			}
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

// interruptOnStop unblocks pending I/O by setting a past deadline once sig
// fires. The returned func must be called before the deadline is reset, so
// that a late interrupt cannot leak into the next user of the stream.
func interruptOnStop(sig stop.Signal, setDeadline func(time.Time) error) func() {
	exited := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-sig.Done():
			_ = setDeadline(aLongTimeAgo)
		case <-exited:
		}
	}()
	return func() {
		close(exited)
		wg.Wait()
	}
}
