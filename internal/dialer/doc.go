// Package dialer provides the outbound dialers proxies use to reach their
// upstreams.
//
// Dialers implement a small interface (DialContext) and connect either
// directly or through an intermediate proxy (HTTP CONNECT or SOCKS5), which
// is useful when the service under test is only reachable through one.
package dialer
