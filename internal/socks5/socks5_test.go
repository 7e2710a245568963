package socks5

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		clientAuth Auth
		serverAuth Auth
		rep        byte
		wantErr    error
	}{
		{name: "no_auth"},
		{
			name:       "user_pass",
			clientAuth: Auth{Username: "user", Password: "pass"},
			serverAuth: Auth{Username: "user", Password: "pass"},
		},
		{
			name:       "bad_password",
			clientAuth: Auth{Username: "user", Password: "nope"},
			serverAuth: Auth{Username: "user", Password: "pass"},
			wantErr:    ErrAuthFailed,
		},
		{
			name:    "refused",
			rep:     RepConnectionRefused,
			wantErr: &ReplyError{Rep: RepConnectionRefused},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			var g errgroup.Group
			g.Go(func() error {
				defer serverConn.Close()

				if err := ServerNegotiate(serverConn, tt.serverAuth); err != nil {
					return nil
				}
				cmd, addr, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if cmd != CmdConnect || addr != "127.0.0.1:80" {
					return fmt.Errorf("unexpected request: cmd=%d addr=%s", cmd, addr)
				}
				if tt.rep != 0 {
					return WriteFailureReply(serverConn, tt.rep)
				}
				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			err := ClientDial(clientConn, tt.clientAuth, "127.0.0.1:80")
			if gerr := g.Wait(); gerr != nil {
				t.Fatal(gerr)
			}

			var re *ReplyError
			switch {
			case tt.wantErr == nil:
				if err != nil {
					t.Fatal(err)
				}
			case errors.As(tt.wantErr, &re):
				var got *ReplyError
				if !errors.As(err, &got) || got.Rep != re.Rep {
					t.Fatalf("got %v want %v", err, tt.wantErr)
				}
			case !errors.Is(err, tt.wantErr):
				t.Fatalf("got %v want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientRequiresAuth(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		defer serverConn.Close()
		_ = ServerNegotiate(serverConn, Auth{Username: "user", Password: "pass"})
	}()

	if err := ClientNegotiate(clientConn, Auth{}); err == nil {
		t.Fatal("expected error")
	}
}
