// Package proxy accepts redirected and SOCKS5 connections, works out where
// each one was headed, and relays it through the upstream dialer.
//
// A connection whose original destination differs from the listener address
// was redirected by the kernel and is forwarded there. Redirected HTTPS
// connections are peeked for a TLS server name, which replaces the IP so the
// upstream proxy resolves the name itself. Any other connection must speak
// SOCKS5 (no auth, CONNECT only).
package proxy
