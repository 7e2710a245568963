// Package proxy runs noxious proxies.
//
// A proxy accepts client connections, dials its upstream, and joins the two
// with a pair of links (client → upstream and upstream → client), each
// running the proxy's current toxics. Toxic changes arrive as events on a
// request/response channel and are applied to every live connection by
// rebuilding its links over the same TCP connections.
package proxy
