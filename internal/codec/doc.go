// Package codec parses and rewrites the Ethernet/VLAN/IPv4/IPv6/UDP header
// chain of a reflected test frame, and computes the IPv4 and UDP checksums
// defined in RFC 791, RFC 768, and RFC 8200.
//
// All operations work in place on a caller-owned byte slice; nothing in
// this package allocates on the parse/rewrite path.
package codec
