// Package toxic defines the toxics that shape traffic flowing through a link.
//
// A toxic is a named, ordered transform over a stream of byte chunks. Each
// toxic in a chain runs on its own goroutine, reading chunks from the previous
// stage and writing to the next one through a Stub. Toxics that need to keep
// state across chain rebuilds of the same connection store it in a
// StateHolder, keyed by direction and name.
package toxic
