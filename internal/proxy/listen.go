package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenTCP listens on addr and returns a net.Listener that applies
// keepAliveConfig to accepted connections and disables Nagle's algorithm, so
// that toxics see chunks as the client wrote them.
func ListenTCP(addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return &tcpListener{Listener: ln, keepAlive: keepAliveConfig}, nil
}

type tcpListener struct {
	net.Listener
	keepAlive net.KeepAliveConfig
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.keepAlive)
		_ = tc.SetNoDelay(true)
	}

	return conn, nil
}
