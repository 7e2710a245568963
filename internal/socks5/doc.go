// Package socks5 holds the SOCKS5 handshake steps noxious needs to reach an
// upstream through a SOCKS5 proxy, plus the server-side counterparts used to
// exercise them in tests.
//
// Wire encoding is delegated to github.com/txthinking/socks5.
package socks5
