package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/die-net/noxious/internal/config"
	"github.com/die-net/noxious/internal/metrics"
	"github.com/die-net/noxious/internal/stop"
	"github.com/die-net/noxious/internal/testutil"
	"github.com/die-net/noxious/internal/toxic"
)

func TestMain(m *testing.M) {
	log.SetHandler(discard.Default)
	os.Exit(m.Run())
}

type testProxy struct {
	shared  *Shared
	events  *Events
	metrics *metrics.Metrics
	addr    string
	stopper *stop.Stopper
	runErr  chan error
}

func startProxy(t *testing.T, upstream string, toxics Toxics) *testProxy {
	t.Helper()

	m := metrics.New(prometheus.NewRegistry())
	pc := config.Proxy{Name: "test", Listen: "127.0.0.1:0", Upstream: upstream, Enabled: true}
	ln, shared, err := Initialize(pc, toxics, Config{Metrics: m})
	if err != nil {
		t.Fatal(err)
	}

	sig, stopper := stop.New()
	events, ch := NewEventChannel(0)
	p := &testProxy{
		shared:  shared,
		events:  events,
		metrics: m,
		addr:    ln.Addr().String(),
		stopper: stopper,
		runErr:  make(chan error, 1),
	}
	go func() { p.runErr <- Run(ln, shared, ch, sig) }()
	t.Cleanup(stopper.Stop)

	return p
}

func (p *testProxy) dial(t *testing.T) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", p.addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (p *testProxy) send(t *testing.T, ev toxic.Event) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.events.Send(ctx, ev)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func timedEcho(t *testing.T, c net.Conn, msg string) time.Duration {
	t.Helper()

	start := time.Now()
	_ = c.SetDeadline(start.Add(5 * time.Second))
	testutil.AssertEcho(t, c, c, []byte(msg))
	return time.Since(start)
}

func echoServer(t *testing.T) string {
	t.Helper()

	return testutil.StartEchoTCPServer(t, context.Background()).Addr().String()
}

func TestProxyEcho(t *testing.T) {
	t.Parallel()

	p := startProxy(t, echoServer(t), Toxics{})
	c := p.dial(t)

	timedEcho(t, c, "hello")
	timedEcho(t, c, "world")

	eventually(t, "connection metric", func() bool {
		return promtestutil.ToFloat64(p.metrics.Connections.WithLabelValues("test", "ok")) == 1
	})
	if got := p.shared.State.Len(); got != 1 {
		t.Fatalf("clients %d want 1", got)
	}

	_ = c.Close()
	eventually(t, "client removal", func() bool {
		return p.shared.State.Len() == 0 && promtestutil.ToFloat64(p.metrics.Active.WithLabelValues("test")) == 0
	})
}

func TestProxyUpstreamDialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	refused := ln.Addr().String()
	_ = ln.Close()

	p := startProxy(t, refused, Toxics{})
	c := p.dial(t)

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v want EOF", err)
	}
	eventually(t, "dial_error metric", func() bool {
		return promtestutil.ToFloat64(p.metrics.Connections.WithLabelValues("test", "dial_error")) == 1
	})
}

func TestInitializeErrors(t *testing.T) {
	t.Parallel()

	if _, _, err := Initialize(config.Proxy{Listen: "127.0.0.1:0", Upstream: "x:1"}, Toxics{}, Config{}); !errors.Is(err, config.ErrMissingName) {
		t.Fatalf("got %v want %v", err, config.ErrMissingName)
	}

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	pc := config.Proxy{Name: "busy", Listen: taken.Addr().String(), Upstream: "x:1"}
	if _, _, err := Initialize(pc, Toxics{}, Config{}); err == nil {
		t.Fatal("expected bind error")
	}
}

func TestRunStop(t *testing.T) {
	t.Parallel()

	p := startProxy(t, echoServer(t), Toxics{})
	c := p.dial(t)
	timedEcho(t, c, "hello")

	p.stopper.Stop()

	select {
	case err := <-p.runErr:
		if err != nil {
			t.Fatalf("got %v want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	// Live connections end with the proxy.
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v want EOF", err)
	}
}

func TestToxicEventsRebuildLiveConnection(t *testing.T) {
	t.Parallel()

	p := startProxy(t, echoServer(t), Toxics{})
	c := p.dial(t)
	timedEcho(t, c, "warmup")

	latency := toxic.Toxic{Name: "slow", Stream: toxic.Downstream, Toxicity: 1, Kind: &toxic.Latency{Latency: 200}}
	if err := p.send(t, toxic.AddEvent(latency)); err != nil {
		t.Fatal(err)
	}
	if d := timedEcho(t, c, "delayed"); d < 200*time.Millisecond {
		t.Fatalf("echo took %s with latency toxic", d)
	}

	if err := p.send(t, toxic.RemoveEvent(0, "slow")); err != nil {
		t.Fatal(err)
	}
	if d := timedEcho(t, c, "fast"); d >= 200*time.Millisecond {
		t.Fatalf("echo took %s after removing latency toxic", d)
	}

	if got := promtestutil.ToFloat64(p.metrics.Rebuilds.WithLabelValues("test", "ok")); got != 2 {
		t.Fatalf("rebuilds %v want 2", got)
	}
	if got := p.shared.State.Toxics(); len(got.All()) != 0 {
		t.Fatalf("toxics left: %v", got.All())
	}
}

func TestToxicEventErrors(t *testing.T) {
	t.Parallel()

	noop := toxic.Toxic{Name: "n", Stream: toxic.Upstream, Toxicity: 1, Kind: &toxic.Noop{}}
	p := startProxy(t, echoServer(t), NewToxics([]toxic.Toxic{noop}))

	if err := p.send(t, toxic.RemoveEvent(0, "missing")); !errors.Is(err, toxic.ErrNotFound) {
		t.Fatalf("remove: got %v want %v", err, toxic.ErrNotFound)
	}
	if err := p.send(t, toxic.AddEvent(noop)); !errors.Is(err, toxic.ErrAlreadyExists) {
		t.Fatalf("add: got %v want %v", err, toxic.ErrAlreadyExists)
	}

	missing := noop
	missing.Name = "other"
	if err := p.send(t, toxic.UpdateEvent(missing)); !errors.Is(err, toxic.ErrNotFound) {
		t.Fatalf("update: got %v want %v", err, toxic.ErrNotFound)
	}

	// Same name, other direction.
	down := noop
	down.Stream = toxic.Downstream
	if err := p.send(t, toxic.AddEvent(down)); err != nil {
		t.Fatal(err)
	}

	if got := promtestutil.ToFloat64(p.metrics.Events.WithLabelValues("test", "remove", "not_found")); got != 1 {
		t.Fatalf("remove not_found events %v want 1", got)
	}
}

func TestStatefulToxicSurvivesRebuild(t *testing.T) {
	t.Parallel()

	p := startProxy(t, echoServer(t), Toxics{})
	c := p.dial(t)
	timedEcho(t, c, "warmup")

	limit := toxic.Toxic{Name: "limit", Stream: toxic.Upstream, Toxicity: 1, Kind: &toxic.LimitData{Bytes: 100}}
	if err := p.send(t, toxic.AddEvent(limit)); err != nil {
		t.Fatal(err)
	}
	timedEcho(t, c, "0123456789")

	addr := c.LocalAddr().String()
	before, ok := p.shared.State.StateHolder(addr)
	if !ok {
		t.Fatalf("no state for %s", addr)
	}
	transmitted := func(h *toxic.StateHolder) int64 {
		v, ok := h.Get(limit.Key())
		if !ok {
			t.Fatal("limit_data state missing")
		}
		return v.(*toxic.LimitDataState).Transmitted()
	}
	eventually(t, "limit_data count", func() bool { return transmitted(before) == 10 })

	noop := toxic.Toxic{Name: "noop", Stream: toxic.Downstream, Toxicity: 1, Kind: &toxic.Noop{}}
	if err := p.send(t, toxic.AddEvent(noop)); err != nil {
		t.Fatal(err)
	}

	after, ok := p.shared.State.StateHolder(addr)
	if !ok {
		t.Fatalf("client %s dropped by rebuild", addr)
	}
	if after != before {
		t.Fatal("rebuild replaced the connection's state holder")
	}
	if got := transmitted(after); got != 10 {
		t.Fatalf("transmitted %d after rebuild want 10", got)
	}
	timedEcho(t, c, "more")
}

func TestLimitDataClosesConnection(t *testing.T) {
	t.Parallel()

	limit := toxic.Toxic{Name: "limit", Stream: toxic.Upstream, Toxicity: 1, Kind: &toxic.LimitData{Bytes: 5}}
	p := startProxy(t, echoServer(t), NewToxics([]toxic.Toxic{limit}))
	c := p.dial(t)

	if _, err := c.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	// The connection is torn down once the limit is hit, so the echo of the
	// allowed bytes may be cut short, but nothing past the limit gets through.
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(c)
	if err != nil && !errors.Is(err, syscall.ECONNRESET) {
		t.Fatal(err)
	}
	if !strings.HasPrefix("01234", string(got)) {
		t.Fatalf("got %q want a prefix of %q", got, "01234")
	}
}

func TestCreateLinksDuplicate(t *testing.T) {
	t.Parallel()

	p := startProxy(t, echoServer(t), Toxics{})
	sig, stopper := stop.New()
	defer stopper.Stop()

	newPair := func() pair {
		client, _ := net.Pipe()
		upstream, _ := net.Pipe()
		return pair{client: client, upstream: upstream}
	}

	first := newPair()
	defer first.close()
	if err := p.shared.createLinks("dup", first, first.halves(), Toxics{}, nil, sig); err != nil {
		t.Fatal(err)
	}
	holder, _ := p.shared.State.StateHolder("dup")

	second := newPair()
	defer second.close()
	if err := p.shared.createLinks("dup", second, second.halves(), Toxics{}, nil, sig); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("got %v want %v", err, ErrAlreadyExists)
	}

	got, ok := p.shared.State.StateHolder("dup")
	if !ok || got != holder {
		t.Fatal("existing client entry was replaced")
	}
}
