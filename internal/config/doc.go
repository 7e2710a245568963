// Package config holds proxy configuration: the identity of each proxy and
// the file format used to declare proxies and their initial toxics.
package config
