// Package dialer opens the outbound side of a proxied connection.
//
// Dialers take a fully resolved dest.Destination and an optional block of
// pending bytes captured during destination discovery. The pending bytes are
// written before the connection is returned, so they reach the target ahead
// of anything the relay copies later.
package dialer
