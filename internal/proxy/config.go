package proxy

import (
	"net"

	"github.com/die-net/noxious/internal/dialer"
	"github.com/die-net/noxious/internal/metrics"
)

// Config holds the runtime dependencies shared by proxies.
type Config struct {
	KeepAlive net.KeepAliveConfig

	// Dialer reaches upstreams. Defaults to a direct dialer.
	Dialer dialer.Dialer

	// Metrics defaults to collectors on a private registry.
	Metrics *metrics.Metrics
}
