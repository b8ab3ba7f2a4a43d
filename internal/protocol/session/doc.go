// Package session owns the worker mesh conversation above the frame codec.
//
// Ownership boundary:
// - the json-line hello exchanged once per TCP connection
// - typed payload codecs for every message kind in schema
// - bootstrap dial retry/backoff
package session
