// Package reflect performs the in-place MAC/IP/UDP header swap that turns a
// received test frame into its reflected reply (spec §4.3), with an
// optional post-swap checksum recompute.
//
// The swap itself is split across three architecture-selected files
// (reflect_amd64.go, reflect_arm64.go, reflect_generic.go) so that the
// dispatch structure mirrors the three hardware paths the frame format was
// designed around; see DESIGN.md for why all three currently produce their
// result the same way in pure Go.
package reflect
