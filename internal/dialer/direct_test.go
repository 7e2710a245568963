package dialer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/die-net/noxious/internal/testutil"
)

func TestDirectDialer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)

	conn, err := NewDirectDialer(Config{DialTimeout: time.Second}).DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
}

func TestDirectDialerRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Grab a free port, then release it.
	ln, wait := testutil.StartSingleAcceptServer(t, ctx, func(net.Conn) {})
	addr := ln.Addr().String()
	wait()

	if _, err := NewDirectDialer(Config{}).DialContext(ctx, "tcp", addr); err == nil {
		t.Fatal("expected error")
	}
}
