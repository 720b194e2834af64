// Package testutil contains helpers used across tests: a recording stream
// transport that can simulate a client disconnect, stream assertions and a
// session builder. Not intended for production usage.
package testutil
