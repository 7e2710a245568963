// Package stop implements a tree of cooperative cancellation signals.
//
// A Signal is observed by any number of goroutines; a Stopper fires it. Forked
// signals stop whenever their parent stops, but stopping a fork never reaches
// the parent or its siblings. This lets one connection's goroutines be torn
// down without touching the rest of the proxy.
package stop
