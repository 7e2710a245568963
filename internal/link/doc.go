// Package link runs one direction of a proxied connection.
//
// A Link reads chunks from a source stream, passes them through an ordered
// chain of toxics, and writes the result to a sink stream. A running Link can
// be disbanded, which stops the chain and hands back the source and sink so
// that a new chain can be built over the same live connection.
package link
