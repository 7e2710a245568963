package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/noxious/internal/config"
	"github.com/die-net/noxious/internal/dialer"
	"github.com/die-net/noxious/internal/metrics"
	"github.com/die-net/noxious/internal/proxy"
	"github.com/die-net/noxious/internal/stop"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runningProxy is what a config reload needs to reach a live proxy.
type runningProxy struct {
	shared *proxy.Shared
	events *proxy.Events
}

func run() error {
	var (
		configPath = pflag.String("config", "", "Proxy config file, JSON or YAML (.yaml/.yml). Send SIGHUP to reload toxics.")
		upstream   = pflag.String("upstream-proxy", defaultUpstream(), "How to reach upstreams: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for upstream proxy negotiation")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		seed               = pflag.Uint64("seed", 0, "Seed for toxicity rolls and jitter, for reproducible runs. Unset means random.")
		logLevel           = pflag.String("log-level", "info", "Log level: debug|info|warn|error|fatal")
		logFormat          = pflag.String("log-format", "text", "Log format: text|json")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		return err
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *configPath == "" {
		return errors.New("no proxies configured (set --config)")
	}
	entries, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
	}
	d, err := dialer.New(dialCfg, *upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream-proxy: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := proxy.Config{
		KeepAlive: ka,
		Dialer:    d,
		Metrics:   metrics.New(registry),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	sig, stopper := stop.New()
	context.AfterFunc(ctx, stopper.Stop)

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.WithField("listen", *debugListen).Info("debug listening")
	}

	running := make(map[string]runningProxy, len(entries))
	for _, e := range entries {
		if !e.Enabled {
			log.WithField("proxy", e.Name).Info("proxy disabled")
			continue
		}
		if pflag.CommandLine.Changed("seed") {
			e.RandSeed = seed
		}

		ln, shared, err := proxy.Initialize(e.Proxy, proxy.NewToxics(e.Toxics), cfg)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("proxy %s: %w", e.Name, err)
		}
		events, ch := proxy.NewEventChannel(16)
		running[e.Name] = runningProxy{shared: shared, events: events}

		g.Go(func() error {
			return proxy.Run(ln, shared, ch, sig)
		})
	}
	if len(running) == 0 {
		cancel()
		_ = g.Wait()
		return errors.New("no enabled proxies in config")
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				if err := reload(ctx, *configPath, running); err != nil {
					log.WithError(err).Error("reload failed")
				}
			}
		}
	})

	err = g.Wait()
	log.Info("shutting down")
	return err
}

// reload reads path again and sends each running proxy the toxic events that
// bring it in line with the file. Proxies that were added, removed or had
// their addresses changed need a restart.
func reload(ctx context.Context, path string, running map[string]runningProxy) error {
	entries, err := config.Load(path)
	if err != nil {
		return err
	}

	for _, e := range entries {
		logger := log.WithField("proxy", e.Name)
		rp, ok := running[e.Name]
		if !ok {
			logger.Warn("new proxy ignored until restart")
			continue
		}
		if cur := rp.shared.Config; cur.Listen != e.Listen || cur.Upstream != e.Upstream {
			logger.Warn("address change ignored until restart")
		}

		events := rp.shared.State.Toxics().Diff(proxy.NewToxics(e.Toxics))
		for _, ev := range events {
			if err := rp.events.Send(ctx, ev); err != nil {
				logger.WithError(err).WithField("event", ev.Kind.String()).Error("toxic event failed")
			}
		}
		logger.Infof("reloaded with %d toxic events", len(events))
	}
	return nil
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "text":
		log.SetHandler(text.New(os.Stderr))
	case "json":
		log.SetHandler(jsonhandler.New(os.Stderr))
	default:
		return fmt.Errorf("invalid --log-format: %q", format)
	}
	return nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	var n [3]int
	for i, name := range []string{"keepidle", "keepintvl", "keepcnt"} {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: %w", name, err)
		}
		if v <= 0 {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: must be > 0", name)
		}
		n[i] = v
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(n[0]) * time.Second,
		Interval: time.Duration(n[1]) * time.Second,
		Count:    n[2],
	}, nil
}

func defaultUpstream() string {
	for _, env := range []string{"ALL_PROXY", "all_proxy"} {
		if p := os.Getenv(env); p != "" {
			return p
		}
	}
	return "direct://"
}
