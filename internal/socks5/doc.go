// Package socks5 is the SOCKS5 wire codec shared by the local server role and
// the upstream client role.
//
// It wraps the frame types in github.com/txthinking/socks5 and translates
// between them and dest.Destination. Only the "no auth" method is accepted
// from local clients; the client role can also offer username/password to
// an upstream proxy. Only the CONNECT command is supported.
package socks5
