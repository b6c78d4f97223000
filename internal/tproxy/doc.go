// Package tproxy recovers the original destination of TCP connections that a
// NAT rule (iptables REDIRECT, nft redirect) sent to this process.
//
// On Linux the lookup uses getsockopt SO_ORIGINAL_DST for IPv4 and
// IP6T_SO_ORIGINAL_DST for IPv6. On other platforms it always fails with
// ErrNotSupported.
package tproxy
