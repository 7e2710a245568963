package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	CmdConnect           = txsocks5.CmdConnect
	RepConnectionRefused = txsocks5.RepConnectionRefused
	RepHostUnreachable   = txsocks5.RepHostUnreachable
)

// ServerNegotiate answers a client's method negotiation, requiring
// username/password when auth.Username is set.
func ServerNegotiate(conn net.Conn, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5: negotiation request: %w", err)
	}

	want := byte(txsocks5.MethodNone)
	if auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, want) {
		// 0xff: no acceptable methods.
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
		return errors.New("socks5: no acceptable methods")
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: negotiation reply: %w", err)
	}
	if want == txsocks5.MethodNone {
		return nil
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5: read userpass: %w", err)
	}
	if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
		return ErrAuthFailed
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: write userpass: %w", err)
	}
	return nil
}

// ServerReadRequest reads a client request and returns its command and
// destination as host:port.
func ServerReadRequest(conn net.Conn) (byte, string, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return 0, "", fmt.Errorf("socks5: request: %w", err)
	}
	return req.Cmd, req.Address(), nil
}

// WriteSuccessReply reports success with bound as the bound address.
func WriteSuccessReply(conn net.Conn, bound net.Addr) error {
	atyp, addr, port, err := parseAddress(bound.String())
	if err != nil {
		return err
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: success reply: %w", err)
	}
	return nil
}

// WriteFailureReply reports rep with a zero IPv4 bound address.
func WriteFailureReply(conn net.Conn, rep byte) error {
	_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(conn)
	return err
}
